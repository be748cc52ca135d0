package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики движка заказов и read-side.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	// Счётчики исходов
	ordersCreated  prometheus.Counter
	statusChanges  *prometheus.CounterVec
	ordersDeleted  prometheus.Counter
	rejections     *prometheus.CounterVec
	failures       *prometheus.CounterVec
	stockRestored  prometheus.Counter
	stockDecreased prometheus.Counter

	// Гистограмма времени выполнения операций
	operationDuration *prometheus.HistogramVec

	// Gauge для открытых транзакций
	inflightUnits prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordertx_orders_created_total",
			Help: "Total number of committed orders",
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordertx_order_status_changes_total",
			Help: "Total number of committed status transitions",
		}, []string{"to"}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordertx_orders_deleted_total",
			Help: "Total number of deleted orders",
		}),
		rejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordertx_rejections_total",
			Help: "Total number of requests rejected because of caller faults",
		}, []string{"operation", "kind"}),
		failures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordertx_failures_total",
			Help: "Total number of requests failed on the server side",
		}, []string{"operation", "kind"}),
		stockRestored: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordertx_stock_restored_units_total",
			Help: "Total number of stock units returned by cancellations and deletions",
		}),
		stockDecreased: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordertx_stock_decremented_units_total",
			Help: "Total number of stock units taken by created orders",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordertx_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		inflightUnits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordertx_inflight_units",
			Help: "Number of currently open atomic units",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов и списанных единиц.
func (m *OrderMetrics) RecordOrderCreated(units int64) {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
	m.stockDecreased.Add(float64(units))
}

// RecordStatusChange учитывает зафиксированный переход статуса.
func (m *OrderMetrics) RecordStatusChange(to string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(to).Inc()
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *OrderMetrics) RecordOrderDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// RecordStockRestored учитывает возвращённые на склад единицы.
func (m *OrderMetrics) RecordStockRestored(units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.stockRestored.Add(float64(units))
}

// RecordRejection учитывает отказ по вине запроса.
func (m *OrderMetrics) RecordRejection(operation, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, kind).Inc()
}

// RecordFailure учитывает серверную ошибку.
func (m *OrderMetrics) RecordFailure(operation, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(operation, kind).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *OrderMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordUnitStarted увеличивает количество открытых транзакций.
func (m *OrderMetrics) RecordUnitStarted() {
	if m == nil {
		return
	}
	m.inflightUnits.Inc()
}

// RecordUnitFinished уменьшает количество открытых транзакций.
func (m *OrderMetrics) RecordUnitFinished() {
	if m == nil {
		return
	}
	m.inflightUnits.Dec()
}
