package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/messaging/kafka"
)

var errNotALetter = errors.New("message is not an order dead letter")

type replayStats struct {
	scanned  int
	replayed map[domain.DeadLetterReason]int
	skipped  map[string]int
}

func (s replayStats) total() int {
	n := 0
	for _, count := range s.replayed {
		n += count
	}
	return n
}

func (s replayStats) log(logger *log.Entry) {
	fields := log.Fields{"scanned": s.scanned, "replayed": s.total()}
	for reason, count := range s.replayed {
		fields["replayed_"+string(reason)] = count
	}
	for cause, count := range s.skipped {
		fields["skipped_"+cause] = count
	}
	logger.WithFields(fields).Info("dlq replay finished")
}

// replayer читает DLQ по партициям от старых offset к новым.
// Письма одного заказа лежат в одной партиции (ключ - id заказа),
// поэтому повторная публикация сохраняет их исходный порядок.
type replayer struct {
	cfg        config
	deps       replayDeps
	logger     *log.Entry
	publishers map[string]*kafka.OutboxTopicPublisher
	stats      replayStats
}

func newReplayer(cfg config, deps replayDeps, logger *log.Entry) *replayer {
	return &replayer{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		publishers: make(map[string]*kafka.OutboxTopicPublisher),
		stats: replayStats{
			replayed: make(map[domain.DeadLetterReason]int),
			skipped:  make(map[string]int),
		},
	}
}

func (r *replayer) run(ctx context.Context) error {
	if r.deps.offsets == nil || r.deps.consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if r.cfg.execute && r.deps.producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := r.deps.consumer.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if r.stats.scanned >= r.cfg.limit {
			break
		}
		if err := r.scanPartition(ctx, partition); err != nil {
			return err
		}
	}
	return nil
}

func (r *replayer) scanPartition(ctx context.Context, partition int32) error {
	oldest, err := r.deps.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	end, err := r.deps.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if end <= oldest {
		return nil
	}

	start := oldest
	if r.cfg.fromNewest {
		start = max(end-int64(r.cfg.limit-r.stats.scanned), oldest)
	}

	pc, err := r.deps.consumer.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for r.stats.scanned < r.cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Warn("partition idle before reaching end offset")
			return nil
		case consumerErr, ok := <-pc.Errors():
			if ok && consumerErr != nil {
				return fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return nil
			}
			idle.Reset(r.cfg.idleTimeout)

			r.stats.scanned++
			if err := r.handle(msg); err != nil {
				return err
			}
			if msg.Offset+1 >= end {
				return nil
			}
		}
	}
	return nil
}

// handle решает судьбу одного письма. Ошибка возвращается только при сбое публикации:
// продолжать нельзя, иначе следующие события заказа обгонят непереигранное.
func (r *replayer) handle(msg *sarama.ConsumerMessage) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	letter, err := decodeLetter(msg.Value)
	if err != nil {
		r.stats.skipped["undecodable"]++
		entry.WithError(err).Warn("skip dlq message")
		return nil
	}
	entry = entry.WithFields(log.Fields{
		"order_id":   letter.AggregateID,
		"event_type": letter.EventType,
		"reason":     letter.Reason,
	})

	if cause := skipCause(letter, r.cfg.orderID); cause != "" {
		r.stats.skipped[cause]++
		if cause != skipOtherOrder {
			entry.WithField("cause", cause).Warn("dead letter is not replayable")
		}
		return nil
	}

	topic := originalTopic(msg, r.cfg.targetTopic)
	if r.cfg.execute {
		if err := r.publisher(topic).Publish(letter.Original()); err != nil {
			return fmt.Errorf("replay %s of order %s: %w", letter.EventType, letter.AggregateID, err)
		}
	} else {
		entry.WithField("target_topic", topic).Info("dlq replay candidate")
	}
	r.stats.replayed[letter.Reason]++
	return nil
}

func (r *replayer) publisher(topic string) *kafka.OutboxTopicPublisher {
	if p, ok := r.publishers[topic]; ok {
		return p
	}
	p := kafka.NewReplayPublisher(r.deps.producer, topic, r.cfg.sourceTopic)
	r.publishers[topic] = p
	return p
}

const (
	skipNoPayload     = "no_payload"
	skipNotReplayable = "not_replayable"
	skipUnknownEvent  = "unknown_event_type"
	skipOtherOrder    = "other_order"
)

// skipCause возвращает причину пропуска или пустую строку, если письмо можно переиграть.
func skipCause(letter domain.DeadLetter, orderID string) string {
	switch {
	case orderID != "" && letter.AggregateID != orderID:
		return skipOtherOrder
	case len(letter.Payload) == 0:
		return skipNoPayload
	case !letter.Reason.Replayable():
		return skipNotReplayable
	case !letter.EventType.Valid():
		return skipUnknownEvent
	default:
		return ""
	}
}

// decodeLetter разворачивает kafka.Envelope DLQ-топика и письмо внутри него.
func decodeLetter(value []byte) (domain.DeadLetter, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(value, &envelope); err != nil || envelope.ID == "" || len(envelope.Payload) == 0 {
		return domain.DeadLetter{}, errNotALetter
	}

	var letter domain.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter %s: %w", envelope.ID, err)
	}
	if letter.OutboxID == "" || letter.AggregateID == "" {
		return domain.DeadLetter{}, fmt.Errorf("dead letter %s: %w", envelope.ID, errNotALetter)
	}
	return letter, nil
}

func originalTopic(msg *sarama.ConsumerMessage, fallback string) string {
	for _, header := range msg.Headers {
		if header != nil && string(header.Key) == kafka.HeaderOriginalTopic && len(header.Value) > 0 {
			return string(header.Value)
		}
	}
	return fallback
}
