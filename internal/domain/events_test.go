package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderEvent_OutboxMessage(t *testing.T) {
	order := Order{
		ID:          "order-1",
		CustomerID:  "customer-1",
		Status:      OrderStatusPending,
		TotalAmount: decimal.RequireFromString("12.30"),
		Items: []OrderItem{
			{ProductID: "p-1", LineNo: 1, Quantity: 3, PricePerItem: decimal.RequireFromString("4.10")},
		},
	}

	event := NewOrderEvent(EventTypeOrderCreated, order, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	msg, err := event.OutboxMessage()
	if err != nil {
		t.Fatalf("outbox message: %v", err)
	}

	if msg.AggregateType != AggregateTypeOrder || msg.AggregateID != "order-1" {
		t.Fatalf("unexpected aggregate: %s/%s", msg.AggregateType, msg.AggregateID)
	}
	if msg.EventType != "order.created" {
		t.Fatalf("unexpected event type: %s", msg.EventType)
	}

	var decoded map[string]any
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["total_amount"] != "12.3" {
		t.Fatalf("unexpected total_amount: %v", decoded["total_amount"])
	}
	if _, ok := decoded["previous_status"]; ok {
		t.Fatal("previous_status must be omitted for created event")
	}
	items, ok := decoded["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("unexpected items: %v", decoded["items"])
	}
}

func TestEventType_Valid(t *testing.T) {
	for _, eventType := range []EventType{EventTypeOrderCreated, EventTypeOrderStatusChanged, EventTypeOrderCancelled, EventTypeOrderDeleted} {
		if !eventType.Valid() {
			t.Fatalf("%s must be valid", eventType)
		}
	}
	for _, eventType := range []EventType{"", "order.refunded", "ORDER.CREATED"} {
		if eventType.Valid() {
			t.Fatalf("%q must be invalid", eventType)
		}
	}
}
