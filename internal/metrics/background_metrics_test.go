package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBackgroundMetrics_Delivery(t *testing.T) {
	m := NewBackgroundMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordDelivery(DeliveryRetry)
	m.RecordDelivery(DeliveryRetry)
	m.RecordDelivery(DeliverySent)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveries.WithLabelValues(DeliveryRetry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues(DeliverySent)))
}

func TestBackgroundMetrics_OutboxBacklog(t *testing.T) {
	m := NewBackgroundMetricsWithRegisterer(prometheus.NewRegistry())

	m.ObserveOutboxBacklog(4, 90*time.Second)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.outboxPending))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.outboxOldestAge))

	m.ObserveOutboxBacklog(0, time.Hour)
	assert.Zero(t, testutil.ToFloat64(m.outboxPending))
	assert.Zero(t, testutil.ToFloat64(m.outboxOldestAge))
}

func TestBackgroundMetrics_Cleanup(t *testing.T) {
	m := NewBackgroundMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordCleanup(ResultOK, 7)
	m.RecordCleanup(ResultError, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleanupRuns.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleanupRuns.WithLabelValues(ResultError)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.cleanupDeleted))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cleanupLastDeleted))
}

func TestBackgroundMetrics_NilReceiver(t *testing.T) {
	var m *BackgroundMetrics

	assert.NotPanics(t, func() {
		m.RecordDelivery(DeliverySent)
		m.ObserveOutboxBacklog(1, time.Second)
		m.RecordCleanup(ResultOK, 1)
	})
}
