package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewOrderMetricsWithRegisterer(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	if m.ordersCreated == nil || m.rejections == nil || m.failures == nil {
		t.Fatal("counters should not be nil")
	}
	if m.operationDuration == nil {
		t.Error("operationDuration histogram vec should not be nil")
	}
	if m.inflightUnits == nil {
		t.Error("inflightUnits gauge should not be nil")
	}
}

func TestNewOrderMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordOrderCreated(2)
	if got := counterValue(t, second.ordersCreated); got != 1.0 {
		t.Errorf("expected shared counter value 1.0, got %f", got)
	}
}

func TestRecordOrderCreated(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderCreated(3)
	m.RecordOrderCreated(2)

	if got := counterValue(t, m.ordersCreated); got != 2.0 {
		t.Errorf("expected orders created 2.0, got %f", got)
	}
	if got := counterValue(t, m.stockDecreased); got != 5.0 {
		t.Errorf("expected decremented units 5.0, got %f", got)
	}
}

func TestRecordRejectionAndFailure(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordRejection("create_order", "insufficient_stock")
	m.RecordRejection("create_order", "insufficient_stock")
	m.RecordFailure("create_order", "transient_store_failure")

	if got := counterValue(t, m.rejections.WithLabelValues("create_order", "insufficient_stock")); got != 2.0 {
		t.Errorf("expected 2 rejections, got %f", got)
	}
	if got := counterValue(t, m.failures.WithLabelValues("create_order", "transient_store_failure")); got != 1.0 {
		t.Errorf("expected 1 failure, got %f", got)
	}
}

func TestRecordStockRestored_IgnoresZero(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStockRestored(0)
	m.RecordStockRestored(4)

	if got := counterValue(t, m.stockRestored); got != 4.0 {
		t.Errorf("expected restored units 4.0, got %f", got)
	}
}

func TestRecordOperationDuration(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOperationDuration("update_status", 50*time.Millisecond)
	m.RecordOperationDuration("update_status", 100*time.Millisecond)

	metric := &dto.Metric{}
	observer := m.operationDuration.WithLabelValues("update_status")
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
}

func TestUnitLifecycle(t *testing.T) {
	m := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordUnitStarted()
	m.RecordUnitStarted()
	m.RecordUnitFinished()

	metric := &dto.Metric{}
	if err := m.inflightUnits.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if metric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected inflight units 1.0, got %f", metric.Gauge.GetValue())
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *OrderMetrics

	m.RecordOrderCreated(1)
	m.RecordStatusChange("completed")
	m.RecordOrderDeleted()
	m.RecordStockRestored(1)
	m.RecordRejection("op", "kind")
	m.RecordFailure("op", "kind")
	m.RecordOperationDuration("op", time.Second)
	m.RecordUnitStarted()
	m.RecordUnitFinished()
}
