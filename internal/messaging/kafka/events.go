package kafka

import (
	"encoding/json"
	"time"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "ordertx.order.events"
	TopicDeadLetterQueue = "ordertx.dlq"
)

// Kafka headers событий заказа
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderContentType   = "content-type"

	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
	HeaderReplayedFrom  = "x-replayed-from"
	HeaderDLQReason     = "x-dead-letter-reason"
)

const contentTypeJSON = "application/json"

// Envelope - формат сообщения в topic событий заказа.
// Payload содержит сериализованное событие без изменений.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}
