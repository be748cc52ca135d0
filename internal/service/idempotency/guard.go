package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

const (
	defaultKeyTTL = 24 * time.Hour
	// finalizeTimeout ограничивает запись итога по ключу после того, как заказ уже зафиксирован.
	finalizeTimeout = 5 * time.Second
)

// Outcome - решение по входящему запросу с idempotency-key.
type Outcome int

const (
	// OutcomeProceed - ключ занят этим запросом, его нужно выполнить.
	OutcomeProceed Outcome = iota
	// OutcomeReplay - запрос уже выполнен, нужно вернуть сохранённый ответ.
	OutcomeReplay
	// OutcomeInFlight - первый запрос с этим ключом ещё обрабатывается.
	OutcomeInFlight
	// OutcomeMismatch - ключ уже использован с другим телом запроса.
	OutcomeMismatch
)

// Decision - результат Begin.
type Decision struct {
	Outcome Outcome
	Record  domain.IdempotencyRecord
}

// Guard связывает idempotency-key с ответом на создание заказа.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard; ttl<=0 означает срок хранения по умолчанию.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// RequestHash возвращает отпечаток тела запроса.
func RequestHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Begin пытается занять ключ под запрос с телом payload.
func (g *Guard) Begin(ctx context.Context, key string, payload []byte) (Decision, error) {
	record, err := g.repo.CreateProcessing(ctx, key, RequestHash(payload), g.now().UTC().Add(g.ttl))
	switch {
	case err == nil:
		return Decision{Outcome: OutcomeProceed, Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Decision{Outcome: OutcomeMismatch, Record: record}, nil
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Replayable() {
			return Decision{Outcome: OutcomeReplay, Record: record}, nil
		}
		return Decision{Outcome: OutcomeInFlight, Record: record}, nil
	default:
		return Decision{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Complete сохраняет ответ для повторов: 2xx как done, остальное как failed.
// Отмена ctx не прерывает запись: заказ к этому моменту уже зафиксирован движком.
func (g *Guard) Complete(ctx context.Context, key string, body []byte, status int) error {
	ctx, cancel := detached(ctx)
	defer cancel()

	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return g.repo.MarkDone(ctx, key, body, status)
	}
	return g.repo.MarkFailed(ctx, key, body, status)
}

// Release освобождает ключ после временного сбоя, чтобы клиент мог повторить запрос.
func (g *Guard) Release(ctx context.Context, key string) {
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := g.repo.Release(ctx, key); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to release idempotency key")
	}
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
