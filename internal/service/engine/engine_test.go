package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
	"github.com/vladislavdragonenkov/ordertx/internal/metrics"
	"github.com/vladislavdragonenkov/ordertx/internal/service/engine"
	"github.com/vladislavdragonenkov/ordertx/internal/storage/memory"
)

const (
	customerID = "customer-1"
	keyboardID = "p-keyboard"
	mouseID    = "p-mouse"
	cableID    = "p-cable"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	engine   *engine.Engine
	registry *prometheus.Registry
	hook     *test.Hook
}

func newFixture(t *testing.T, transactor func(*memory.Store) domain.Transactor, opts ...engine.Option) *fixture {
	t.Helper()

	store := memory.NewStore()
	err := store.SeedCatalog(context.Background(),
		[]domain.Customer{{ID: customerID, Name: "Ann"}},
		[]domain.Product{
			{ID: keyboardID, Name: "Keyboard", Price: decimal.RequireFromString("49.90"), Stock: 10},
			{ID: mouseID, Name: "Mouse", Price: decimal.RequireFromString("19.99"), Stock: 3},
			{ID: cableID, Name: "Cable", Price: decimal.RequireFromString("5.00"), Stock: 0},
		},
	)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	registry := prometheus.NewRegistry()

	var tx domain.Transactor = store
	if transactor != nil {
		tx = transactor(store)
	}

	options := append([]engine.Option{
		engine.WithLogger(logger.WithField("component", "engine-test")),
		engine.WithMetrics(metrics.NewOrderMetricsWithRegisterer(registry)),
		engine.WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	return &fixture{
		store:    store,
		engine:   engine.New(tx, options...),
		registry: registry,
		hook:     hook,
	}
}

func (f *fixture) stock(t *testing.T, productID string) int64 {
	t.Helper()
	product, ok := f.store.Product(productID)
	require.True(t, ok, "product %s must exist", productID)
	return product.Stock
}

func (f *fixture) createOrder(t *testing.T, items ...domain.ItemRequest) engine.CreateOrderResult {
	t.Helper()
	result, err := f.engine.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CustomerID: customerID,
		Items:      items,
	})
	require.NoError(t, err)
	return result
}

func item(productID string, qty int32) domain.ItemRequest {
	return domain.ItemRequest{ProductID: productID, Quantity: qty}
}

// metricValue возвращает значение счётчика или gauge из реестра; 0, если серии нет.
func metricValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// faultyTransactor пропускает единицы работы через memory.Store и подменяет шаги внутри них.
type faultyTransactor struct {
	inner domain.Transactor

	mu             sync.Mutex
	beforeFn       func()
	decrementCalls int
	failDecrementN int
	incremented    []string
	failIncrement  error
	failEnqueue    error
	failCommit     error
}

func (f *faultyTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := f.inner.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if f.beforeFn != nil {
			f.beforeFn()
		}
		if err := fn(ctx, &faultyTx{Tx: tx, fault: f}); err != nil {
			return err
		}
		// Ошибка commit на стороне хранилища тоже откатывает изменения.
		return f.failCommit
	})
	return err
}

type faultyTx struct {
	domain.Tx
	fault *faultyTransactor
}

func (t *faultyTx) Products() domain.ProductStore {
	return &faultyProducts{ProductStore: t.Tx.Products(), fault: t.fault}
}

func (t *faultyTx) Outbox() domain.OutboxWriter {
	return &faultyOutbox{OutboxWriter: t.Tx.Outbox(), fault: t.fault}
}

type faultyProducts struct {
	domain.ProductStore
	fault *faultyTransactor
}

func (p *faultyProducts) DecrementStock(ctx context.Context, productID string, qty int32) (int64, error) {
	p.fault.mu.Lock()
	p.fault.decrementCalls++
	call := p.fault.decrementCalls
	p.fault.mu.Unlock()

	if p.fault.failDecrementN > 0 && call == p.fault.failDecrementN {
		return 0, errors.New("connection reset by peer")
	}
	return p.ProductStore.DecrementStock(ctx, productID, qty)
}

func (p *faultyProducts) IncrementStock(ctx context.Context, productID string, qty int32) (int64, error) {
	p.fault.mu.Lock()
	p.fault.incremented = append(p.fault.incremented, productID)
	p.fault.mu.Unlock()

	if p.fault.failIncrement != nil {
		return 0, p.fault.failIncrement
	}
	return p.ProductStore.IncrementStock(ctx, productID, qty)
}

type faultyOutbox struct {
	domain.OutboxWriter
	fault *faultyTransactor
}

func (o *faultyOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if o.fault.failEnqueue != nil {
		return domain.OutboxMessage{}, o.fault.failEnqueue
	}
	return o.OutboxWriter.Enqueue(ctx, msg)
}

func TestEngine_CallerCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerID: customerID,
		Items:      []domain.ItemRequest{item(keyboardID, 1)},
	})
	require.ErrorIs(t, err, domain.ErrTransientStoreFailure)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, domain.KindTransientStoreFailure, domain.KindOf(err))

	require.Equal(t, int64(10), f.stock(t, keyboardID))
	require.Zero(t, f.store.OrderCount())
}

func TestEngine_CallerCancelledMidUnitStillCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, func(store *memory.Store) domain.Transactor {
		return &faultyTransactor{inner: store, beforeFn: cancel}
	})

	result, err := f.engine.CreateOrder(ctx, domain.CreateOrderRequest{
		CustomerID: customerID,
		Items:      []domain.ItemRequest{item(keyboardID, 2)},
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	_, ok := f.store.Order(result.OrderID)
	require.True(t, ok, "unit must commit even if the caller gave up")
	require.Equal(t, int64(8), f.stock(t, keyboardID))
}

func TestEngine_StoreFailureIsTransientAndLogged(t *testing.T) {
	f := newFixture(t, func(store *memory.Store) domain.Transactor {
		return &faultyTransactor{inner: store, failCommit: errors.New("could not serialize access")}
	})

	_, err := f.engine.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CustomerID: customerID,
		Items:      []domain.ItemRequest{item(keyboardID, 1)},
	})
	require.ErrorIs(t, err, domain.ErrTransientStoreFailure)
	require.Contains(t, err.Error(), "could not serialize access")

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, log.ErrorLevel, entry.Level)
	require.Equal(t, "store failure, unit rolled back", entry.Message)
	require.Equal(t, "create_order", entry.Data["operation"])

	require.Equal(t, 1.0, metricValue(t, f.registry, "ordertx_failures_total", map[string]string{
		"operation": "create_order",
		"kind":      string(domain.KindTransientStoreFailure),
	}))
	require.Equal(t, 0.0, metricValue(t, f.registry, "ordertx_inflight_units", nil))
	require.Zero(t, f.store.OrderCount())
	require.Equal(t, int64(10), f.stock(t, keyboardID))
}

func TestEngine_TxTimeoutBoundsUnit(t *testing.T) {
	f := newFixture(t, func(store *memory.Store) domain.Transactor {
		return &faultyTransactor{inner: store, beforeFn: func() { time.Sleep(50 * time.Millisecond) }}
	}, engine.WithTxTimeout(10*time.Millisecond))

	_, err := f.engine.CreateOrder(context.Background(), domain.CreateOrderRequest{
		CustomerID: customerID,
		Items:      []domain.ItemRequest{item(keyboardID, 1)},
	})
	require.ErrorIs(t, err, domain.ErrTransientStoreFailure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, f.store.OrderCount())
	require.Equal(t, int64(10), f.stock(t, keyboardID))
}
