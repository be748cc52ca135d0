package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType определяет тип события заказа в outbox.
type EventType string

const (
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCancelled     EventType = "order.cancelled"
	EventTypeOrderDeleted       EventType = "order.deleted"
)

// Valid сообщает, входит ли тип в набор событий заказа.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeOrderCreated, EventTypeOrderStatusChanged, EventTypeOrderCancelled, EventTypeOrderDeleted:
		return true
	default:
		return false
	}
}

// AggregateTypeOrder - тип агрегата для событий заказа.
const AggregateTypeOrder = "order"

// OrderEvent - полезная нагрузка события заказа.
type OrderEvent struct {
	EventType      EventType        `json:"event_type"`
	OrderID        string           `json:"order_id"`
	CustomerID     string           `json:"customer_id"`
	Status         OrderStatus      `json:"status"`
	PreviousStatus OrderStatus      `json:"previous_status,omitempty"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	Items          []OrderEventItem `json:"items,omitempty"`
	StockRestored  bool             `json:"stock_restored,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// OrderEventItem - позиция заказа в событии.
type OrderEventItem struct {
	ProductID    string          `json:"product_id"`
	Quantity     int32           `json:"quantity"`
	PricePerItem decimal.Decimal `json:"price_per_item"`
}

// NewOrderEvent собирает событие по текущему состоянию заказа.
func NewOrderEvent(eventType EventType, order Order, occurredAt time.Time) OrderEvent {
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			PricePerItem: item.PricePerItem,
		})
	}

	return OrderEvent{
		EventType:   eventType,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		Items:       items,
		OccurredAt:  occurredAt.UTC(),
	}
}

// OutboxMessage сериализует событие в сообщение outbox.
func (e OrderEvent) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", e.EventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   e.OrderID,
		EventType:     string(e.EventType),
		Payload:       payload,
	}, nil
}
