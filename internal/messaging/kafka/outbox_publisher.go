package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
// Ключ сообщения - id заказа, поэтому события одного заказа попадают в одну партицию по порядку.
type OutboxTopicPublisher struct {
	producer     *Producer
	topic        string
	sourceTopic  string
	replayedFrom string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// NewDLQPublisher создаёт паблишер dead letter topic для сообщений, исчерпавших попытки публикации в sourceTopic.
func NewDLQPublisher(producer *Producer, topic, sourceTopic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	if sourceTopic == "" {
		sourceTopic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:    producer,
		topic:       topic,
		sourceTopic: sourceTopic,
	}
}

// NewReplayPublisher создаёт паблишер, возвращающий письма DLQ в topic.
// replayedFrom попадает в заголовок x-replayed-from.
func NewReplayPublisher(producer *Producer, topic, replayedFrom string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer:     producer,
		topic:        topic,
		replayedFrom: replayedFrom,
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	publishedAt := p.producer.now().UTC()
	envelope := Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   publishedAt,
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
		HeaderContentType:   contentTypeJSON,
	}
	if p.sourceTopic != "" {
		headers[HeaderOriginalTopic] = p.sourceTopic
		headers[HeaderFailedAt] = publishedAt.Format(time.RFC3339Nano)
		var letter domain.DeadLetter
		if json.Unmarshal(event.Payload, &letter) == nil && letter.Reason != "" {
			headers[HeaderDLQReason] = string(letter.Reason)
		}
	}
	if p.replayedFrom != "" {
		headers[HeaderReplayedFrom] = p.replayedFrom
	}

	return p.producer.PublishEvent(p.topic, key, envelope, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
