package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/metrics"
)

const (
	defaultTxTimeout = 10 * time.Second
	tracerName       = "github.com/vladislavdragonenkov/ordertx/internal/service/engine"

	operationCreate       = "create_order"
	operationUpdateStatus = "update_status"
	operationDelete       = "delete_order"
)

// Options задаёт зависимости движка.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.OrderMetrics
	Tracer    trace.Tracer
	Clock     func() time.Time
	NewID     func() string
	TxTimeout time.Duration
}

// Option настраивает Engine.
type Option func(*Options)

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики; nil отключает их.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithTracer задаёт tracer для спанов операций.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) {
		opts.Tracer = tracer
	}
}

// WithClock подменяет источник времени (тесты).
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithIDGenerator подменяет генератор идентификаторов заказов и позиций.
func WithIDGenerator(newID func() string) Option {
	return func(opts *Options) {
		opts.NewID = newID
	}
}

// WithTxTimeout ограничивает длительность одной транзакции.
func WithTxTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.TxTimeout = timeout
	}
}

// Engine выполняет мутации заказов: каждая операция - ровно одна атомарная единица работы.
// Собственного разделяемого состояния у движка нет, сериализация идёт через блокировки хранилища.
type Engine struct {
	tx        domain.Transactor
	logger    *log.Entry
	metrics   *metrics.OrderMetrics
	tracer    trace.Tracer
	now       func() time.Time
	newID     func() string
	txTimeout time.Duration
}

// New создаёт движок поверх транзакционного хранилища.
func New(transactor domain.Transactor, options ...Option) *Engine {
	opts := Options{
		Clock:     time.Now,
		NewID:     uuid.NewString,
		TxTimeout: defaultTxTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "engine")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = defaultTxTimeout
	}

	return &Engine{
		tx:        transactor,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    tracer,
		now:       opts.Clock,
		newID:     opts.NewID,
		txTimeout: opts.TxTimeout,
	}
}

// runUnit открывает транзакцию на контексте, отвязанном от отмены вызывающего.
// Начатая единица работы всегда доходит до commit или rollback.
func (e *Engine) runUnit(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: request abandoned before start: %w", domain.ErrTransientStoreFailure, err)
	}

	unitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.txTimeout)
	defer cancel()

	e.metrics.RecordUnitStarted()
	defer e.metrics.RecordUnitFinished()

	return classify(e.tx.WithinTx(unitCtx, fn))
}

// classify оставляет доменные ошибки как есть, остальное считает временным сбоем хранилища.
func classify(err error) error {
	if err == nil || domain.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientStoreFailure, err)
}

// finish закрывает спан, пишет метрики и лог исхода операции.
func (e *Engine) finish(span trace.Span, operation string, started time.Time, err error, fields log.Fields) {
	defer span.End()
	e.metrics.RecordOperationDuration(operation, time.Since(started))

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	kind := domain.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))

	entry := e.logger.WithFields(fields).WithFields(log.Fields{
		"operation": operation,
		"kind":      string(kind),
	})
	if kind.Rejected() {
		e.metrics.RecordRejection(operation, string(kind))
		entry.WithFields(rejectionFields(err)).Warn(err.Error())
		return
	}

	e.metrics.RecordFailure(operation, string(kind))
	if kind == domain.KindInvariantViolation {
		entry.WithError(err).Error("invariant violation, unit rolled back")
		return
	}
	entry.WithError(err).Error("store failure, unit rolled back")
}

// rejectionFields достаёт детали отказа для структурного лога.
func rejectionFields(err error) log.Fields {
	fields := log.Fields{}

	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		fields["product_id"] = stock.ProductID
		fields["available"] = stock.Available
		fields["requested"] = stock.Requested
	}
	var product *domain.ProductNotFoundError
	if errors.As(err, &product) {
		fields["product_id"] = product.ProductID
	}
	var customer *domain.CustomerNotFoundError
	if errors.As(err, &customer) {
		fields["customer_id"] = customer.CustomerID
	}
	var transition *domain.TransitionError
	if errors.As(err, &transition) {
		fields["from"] = string(transition.From)
		fields["to"] = string(transition.To)
	}

	return fields
}

func (e *Engine) enqueue(ctx context.Context, tx domain.Tx, event domain.OrderEvent) error {
	msg, err := event.OutboxMessage()
	if err != nil {
		return err
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", event.EventType, err)
	}
	return nil
}
