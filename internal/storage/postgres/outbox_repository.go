package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

const defaultPullLimit = 100

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт сторону outbox, которую читает воркер публикации.
// Запись событий идёт через Tx.Outbox() в транзакции движка.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = defaultPullLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending order events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		events = append(events, msg)
	}
	return events, rows.Err()
}

// Stats считает pending и dead-lettered события одним проходом по таблице.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'dead_lettered'),
			MIN(created_at) FILTER (WHERE status = 'pending')
		FROM outbox_messages
		WHERE status <> 'sent'
	`).Scan(&stats.PendingCount, &stats.DeadLetteredCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'sent', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark order event %s sent: %w", id, err)
	}
	return expectOneRow(res)
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, letter domain.DeadLetter) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = 'dead_lettered',
		    dead_letter_reason = $2,
		    last_error = NULLIF($3, ''),
		    updated_at = $4
		WHERE id = $1 AND status = 'pending'
	`, letter.OutboxID, string(letter.Reason), letter.PublishError, letter.DeadLetteredAt.UTC())
	if err != nil {
		return fmt.Errorf("dead-letter order event %s: %w", letter.OutboxID, err)
	}
	return expectOneRow(res)
}

func (r *outboxRepository) DeadLetteredAggregates(ctx context.Context, aggregateIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(aggregateIDs) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT aggregate_id
		FROM outbox_messages
		WHERE status = 'dead_lettered' AND aggregate_id = ANY($1)
	`, aggregateIDs)
	if err != nil {
		return nil, fmt.Errorf("query dead-lettered orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dead-lettered order: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}

// expectOneRow превращает "ни одной строки" в ErrOutboxPublish:
// сообщения нет или оно уже снято с публикации.
func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
