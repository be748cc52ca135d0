package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxDeadLettered
)

const defaultPullLimit = 100

type outboxRecord struct {
	msg       domain.OutboxMessage
	state     outboxState
	letter    *domain.DeadLetter
	createdAt time.Time
}

// outboxLog - закоммиченные события в порядке записи.
// Сообщения попадают сюда только при commit транзакции Store.
type outboxLog struct {
	mu      sync.RWMutex
	records []*outboxRecord
	byID    map[string]*outboxRecord
	// deadOrders - заказы, у которых хотя бы одно событие ушло в DLQ.
	deadOrders map[string]struct{}
}

func newOutboxLog() *outboxLog {
	return &outboxLog{
		byID:       make(map[string]*outboxRecord),
		deadOrders: make(map[string]struct{}),
	}
}

func (l *outboxLog) append(msgs ...domain.OutboxMessage) {
	if len(msgs) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	for _, msg := range msgs {
		rec := &outboxRecord{msg: msg, createdAt: now}
		l.records = append(l.records, rec)
		l.byID[msg.ID] = rec
	}
}

// PullPending возвращает до limit pending-сообщений в порядке записи.
func (l *outboxLog) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPullLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, min(limit, len(l.records)))
	for _, rec := range l.records {
		if rec.state != outboxPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (l *outboxLog) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats domain.OutboxStats
	for _, rec := range l.records {
		switch rec.state {
		case outboxPending:
			if stats.PendingCount == 0 {
				stats.OldestPendingAt = rec.createdAt
			}
			stats.PendingCount++
		case outboxDeadLettered:
			stats.DeadLetteredCount++
		}
	}
	return stats, nil
}

func (l *outboxLog) MarkSent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[id]
	if !ok || rec.state != outboxPending {
		return domain.ErrOutboxPublish
	}
	rec.state = outboxSent
	return nil
}

func (l *outboxLog) MarkDeadLettered(ctx context.Context, letter domain.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byID[letter.OutboxID]
	if !ok || rec.state != outboxPending {
		return domain.ErrOutboxPublish
	}
	rec.state = outboxDeadLettered
	rec.letter = &letter
	l.deadOrders[rec.msg.AggregateID] = struct{}{}
	return nil
}

func (l *outboxLog) DeadLetteredAggregates(ctx context.Context, aggregateIDs []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make(map[string]bool)
	for _, id := range aggregateIDs {
		if _, ok := l.deadOrders[id]; ok {
			result[id] = true
		}
	}
	return result, nil
}

// AllPending возвращает копию всех pending-сообщений.
func (l *outboxLog) AllPending() []domain.OutboxMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]domain.OutboxMessage, 0, len(l.records))
	for _, rec := range l.records {
		if rec.state == outboxPending {
			result = append(result, rec.msg)
		}
	}
	return result
}

// DeadLetters возвращает письма DLQ в порядке записи исходных событий.
func (l *outboxLog) DeadLetters() []domain.DeadLetter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []domain.DeadLetter
	for _, rec := range l.records {
		if rec.letter != nil {
			result = append(result, *rec.letter)
		}
	}
	return result
}

var _ domain.OutboxRepository = (*outboxLog)(nil)
