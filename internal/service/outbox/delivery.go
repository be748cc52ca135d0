package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

// errBatchStopped - событие осталось pending, остаток батча откладывается.
var errBatchStopped = errors.New("outbox batch stopped")

// deliverBatch публикует события по порядку. blocked - заказы, чья цепочка событий
// уже прервана DLQ; событие такого заказа в основной топик не уходит.
func (w *Worker) deliverBatch(ctx context.Context, events []domain.OutboxMessage, result *BatchResult) {
	blocked, err := w.repo.DeadLetteredAggregates(ctx, aggregateIDs(events))
	if err != nil {
		w.logger.WithError(err).Warn("failed to load dead-lettered orders, batch deferred")
		result.Deferred = len(events)
		return
	}

	for i, event := range events {
		sent, err := w.deliver(ctx, event, blocked)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.WithError(err).WithFields(eventFields(event)).Warn("order event deferred")
			}
			result.Deferred = len(events) - i
			return
		}
		if sent {
			result.Sent++
		} else {
			result.DeadLettered++
		}
	}
}

// deliver возвращает true, если событие ушло в основной топик, и false, если в DLQ.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage, blocked map[string]bool) (bool, error) {
	if blocked[event.AggregateID] {
		return false, w.deadLetter(ctx, event, domain.DeadLetterPrecedingEvent, nil, blocked)
	}
	if !domain.EventType(event.EventType).Valid() {
		return false, w.deadLetter(ctx, event, domain.DeadLetterUnknownEventType, nil, blocked)
	}

	publishErr := w.publishWithRetry(ctx, event)
	if publishErr == nil {
		publishedEvents.WithLabelValues(event.EventType).Inc()
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			// Событие уже в брокере и уйдёт повторно в следующем цикле.
			w.logger.WithError(err).WithFields(eventFields(event)).Warn("failed to mark order event as sent")
		}
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("%w: %w", errBatchStopped, ctx.Err())
	}
	return false, w.deadLetter(ctx, event, domain.DeadLetterPublishFailed, publishErr, blocked)
}

// deadLetter публикует письмо в DLQ и снимает событие с публикации.
// Пока письмо не записано, событие остаётся pending и порядок заказа не нарушается.
func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, reason domain.DeadLetterReason, cause error, blocked map[string]bool) error {
	letter := domain.NewDeadLetter(event, reason, cause, w.now())
	if w.dlq != nil {
		msg, err := letter.OutboxMessage()
		if err != nil {
			return fmt.Errorf("%w: %w", errBatchStopped, err)
		}
		if err := w.dlq.Publish(msg); err != nil {
			publishAttempts.WithLabelValues("dlq_failed").Inc()
			return fmt.Errorf("%w: publish to dlq: %w", errBatchStopped, err)
		}
	}
	if err := w.repo.MarkDeadLettered(ctx, letter); err != nil {
		return fmt.Errorf("%w: mark dead-lettered: %w", errBatchStopped, err)
	}

	blocked[event.AggregateID] = true
	deadLetteredEvents.WithLabelValues(eventTypeLabel(event.EventType), string(reason)).Inc()

	entry := w.logger.WithFields(eventFields(event)).WithField("reason", reason)
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Error("order event moved to dlq")
	return nil
}

func (w *Worker) publishWithRetry(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.publisher.Publish(event); lastErr == nil {
			publishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		publishAttempts.WithLabelValues("retry_error").Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.retryDelay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	publishAttempts.WithLabelValues("failed").Inc()
	return fmt.Errorf("publish %s after %d attempts: %w", event.EventType, w.maxAttempts, lastErr)
}

// retryDelay - пауза перед попыткой attempt+1: base * 2^(attempt-1), не больше maxRetryDelay.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > w.maxRetryDelay/2 {
			return w.maxRetryDelay
		}
		delay *= 2
	}
	return min(delay, w.maxRetryDelay)
}

func aggregateIDs(events []domain.OutboxMessage) []string {
	seen := make(map[string]struct{}, len(events))
	ids := make([]string, 0, len(events))
	for _, event := range events {
		if _, ok := seen[event.AggregateID]; ok {
			continue
		}
		seen[event.AggregateID] = struct{}{}
		ids = append(ids, event.AggregateID)
	}
	return ids
}

func eventFields(event domain.OutboxMessage) log.Fields {
	return log.Fields{
		"outbox_id":  event.ID,
		"order_id":   event.AggregateID,
		"event_type": event.EventType,
	}
}
