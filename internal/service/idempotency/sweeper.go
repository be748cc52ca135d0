package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval   = 10 * time.Minute
	defaultSweepBatchSize  = 500
	defaultMaxSweepBatches = 20
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordertx_idempotency_cleanup_runs_total",
		Help: "Total number of idempotency key sweeps grouped by result.",
	}, []string{"result"})
	sweptKeys = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordertx_idempotency_cleanup_deleted_total",
		Help: "Total number of expired order idempotency keys deleted.",
	})
	lastSweptKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordertx_idempotency_cleanup_last_deleted",
		Help: "Number of keys deleted during the last sweep.",
	})
)

// ExpiredKeyStore удаляет ключи с истёкшим TTL порциями не больше limit.
type ExpiredKeyStore interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// SweepResult - итог одного прохода.
// Truncated означает, что проход упёрся в лимит батчей и просроченные ключи ещё остались.
type SweepResult struct {
	Deleted   int
	Batches   int
	Truncated bool
}

// Sweeper освобождает Idempotency-Key заказов после истечения TTL,
// включая ключи, зависшие в processing после сбоя запроса.
type Sweeper struct {
	store      ExpiredKeyStore
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*Sweeper)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = interval }
}

// WithBatchSize задаёт размер одного DELETE.
func WithBatchSize(size int) SweeperOption {
	return func(s *Sweeper) { s.batchSize = size }
}

// WithMaxBatches ограничивает число DELETE за проход, остаток уйдёт в следующий.
func WithMaxBatches(n int) SweeperOption {
	return func(s *Sweeper) { s.maxBatches = n }
}

// WithSweepClock подменяет часы, по которым определяется истечение TTL.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper создаёт Sweeper над хранилищем ключей.
func NewSweeper(store ExpiredKeyStore, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:      store,
		interval:   defaultSweepInterval,
		batchSize:  defaultSweepBatchSize,
		maxBatches: defaultMaxSweepBatches,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.WithField("component", "idempotency-sweeper")
	}
	if s.interval <= 0 {
		s.interval = defaultSweepInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultSweepBatchSize
	}
	if s.maxBatches <= 0 {
		s.maxBatches = defaultMaxSweepBatches
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run выполняет проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.store == nil {
		s.logger.Warn("idempotency sweeper is disabled: store is nil")
		return
	}
	s.logger.WithField("interval", s.interval.String()).Info("idempotency sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("idempotency sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	result, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency sweep failed")
		return
	}

	sweepRuns.WithLabelValues("ok").Inc()
	lastSweptKeys.Set(float64(result.Deleted))
	if result.Deleted == 0 {
		return
	}
	entry := s.logger.WithFields(log.Fields{"deleted": result.Deleted, "batches": result.Batches})
	if result.Truncated {
		entry.Warn("idempotency sweep hit batch limit, expired keys remain")
		return
	}
	entry.Info("idempotency sweep completed")
}

// Sweep удаляет ключи, истёкшие к текущему моменту, не больше maxBatches порций.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().UTC()

	for result.Batches < s.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := s.store.DeleteExpired(ctx, cutoff, s.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += deleted
		sweptKeys.Add(float64(deleted))

		if deleted < s.batchSize {
			return result, nil
		}
	}
	result.Truncated = true
	return result, nil
}
