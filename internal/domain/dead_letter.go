package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetterReason объясняет, почему событие не доставлено в основной топик.
type DeadLetterReason string

const (
	// DeadLetterPublishFailed - брокер отклонил все попытки публикации.
	DeadLetterPublishFailed DeadLetterReason = "publish_failed"
	// DeadLetterUnknownEventType - тип события не из набора order.*; потребители его не поймут.
	DeadLetterUnknownEventType DeadLetterReason = "unknown_event_type"
	// DeadLetterPrecedingEvent - более раннее событие того же заказа уже в DLQ,
	// публикация этого нарушила бы порядок событий заказа.
	DeadLetterPrecedingEvent DeadLetterReason = "preceding_event_dead_lettered"
)

// Replayable сообщает, можно ли вернуть письмо в основной топик.
func (r DeadLetterReason) Replayable() bool {
	switch r {
	case DeadLetterPublishFailed, DeadLetterPrecedingEvent:
		return true
	default:
		return false
	}
}

// DeadLetter - содержимое сообщения в DLQ.
type DeadLetter struct {
	OutboxID       string           `json:"outbox_id"`
	AggregateType  string           `json:"aggregate_type"`
	AggregateID    string           `json:"aggregate_id"`
	EventType      EventType        `json:"event_type"`
	Payload        json.RawMessage  `json:"payload"`
	Reason         DeadLetterReason `json:"reason"`
	PublishError   string           `json:"publish_error,omitempty"`
	DeadLetteredAt time.Time        `json:"dlq_published_at"`
}

// NewDeadLetter описывает недоставленное сообщение outbox; cause может быть nil.
func NewDeadLetter(msg OutboxMessage, reason DeadLetterReason, cause error, at time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      EventType(msg.EventType),
		Payload:        json.RawMessage(msg.Payload),
		Reason:         reason,
		DeadLetteredAt: at.UTC(),
	}
	if cause != nil {
		letter.PublishError = cause.Error()
	}
	return letter
}

// OutboxMessage упаковывает письмо для DLQ-топика: ключ и идентификаторы
// остаются от исходного события, payload - само письмо.
func (l DeadLetter) OutboxMessage() (OutboxMessage, error) {
	payload, err := json.Marshal(l)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", l.OutboxID, err)
	}
	return OutboxMessage{
		ID:            l.OutboxID,
		AggregateType: l.AggregateType,
		AggregateID:   l.AggregateID,
		EventType:     string(l.EventType),
		Payload:       payload,
	}, nil
}

// Original восстанавливает исходное сообщение outbox для повторной публикации.
func (l DeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            l.OutboxID,
		AggregateType: l.AggregateType,
		AggregateID:   l.AggregateID,
		EventType:     string(l.EventType),
		Payload:       []byte(l.Payload),
	}
}
