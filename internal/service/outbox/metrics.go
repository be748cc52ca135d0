package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vladislavdragonenkov/ordertx/internal/domain"
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordertx_outbox_publish_attempts_total",
		Help: "Total number of order event publish attempts grouped by result.",
	}, []string{"result"})
	publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordertx_outbox_published_events_total",
		Help: "Total number of order events delivered to the main topic grouped by event type.",
	}, []string{"event_type"})
	deadLetteredEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordertx_outbox_dead_lettered_events_total",
		Help: "Total number of order events moved to DLQ grouped by event type and reason.",
	}, []string{"event_type", "reason"})
	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordertx_outbox_pending_records",
		Help: "Current number of pending order events in transactional outbox.",
	})
	deadLetteredRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordertx_outbox_dead_lettered_records",
		Help: "Current number of order events parked in DLQ.",
	})
	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordertx_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending order event.",
	})
)

// eventTypeLabel ограничивает кардинальность метрик известными типами событий.
func eventTypeLabel(eventType string) string {
	if domain.EventType(eventType).Valid() {
		return eventType
	}
	return "unknown"
}
