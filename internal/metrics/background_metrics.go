package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы доставки уведомления из outbox.
const (
	DeliverySent       = "sent"
	DeliveryRetry      = "retry_error"
	DeliveryFailed     = "failed"
	DeliveryDLQFailed  = "dlq_failed"
	DeliveryDeadLetter = "dead_letter"
)

// BackgroundMetrics покрывает фоновые воркеры: доставку outbox и очистку Idempotency-Key.
type BackgroundMetrics struct {
	deliveries      *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	outboxOldestAge prometheus.Gauge

	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

// NewBackgroundMetrics регистрирует метрики в default registry.
func NewBackgroundMetrics() *BackgroundMetrics {
	return NewBackgroundMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewBackgroundMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewBackgroundMetricsWithRegisterer(registerer prometheus.Registerer) *BackgroundMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BackgroundMetrics{
		deliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "offers_outbox_publish_attempts_total",
			Help: "Total number of notification outbox publish attempts grouped by result",
		}, []string{"result"}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "offers_outbox_pending_records",
			Help: "Current number of undelivered notifications in the outbox",
		}),
		outboxOldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "offers_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest undelivered notification",
		}),
		cleanupRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "offers_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result",
		}, []string{"result"}),
		cleanupDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "offers_idempotency_cleanup_deleted_total",
			Help: "Total number of expired Idempotency-Key records removed",
		}),
		cleanupLastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "offers_idempotency_cleanup_last_deleted",
			Help: "Number of Idempotency-Key records removed during the last cleanup run",
		}),
	}
}

// RecordDelivery фиксирует попытку доставки уведомления.
func (m *BackgroundMetrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

// ObserveOutboxBacklog обновляет размер очереди и возраст самого старого сообщения.
func (m *BackgroundMetrics) ObserveOutboxBacklog(pending int, oldestAge time.Duration) {
	if m == nil {
		return
	}
	if pending <= 0 || oldestAge < 0 {
		oldestAge = 0
	}
	m.outboxPending.Set(float64(pending))
	m.outboxOldestAge.Set(oldestAge.Seconds())
}

// RecordCleanup фиксирует прогон очистки ключей.
func (m *BackgroundMetrics) RecordCleanup(result string, deleted int) {
	if m == nil {
		return
	}
	m.cleanupRuns.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.cleanupLastDeleted.Set(float64(deleted))
	}
	if deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}
