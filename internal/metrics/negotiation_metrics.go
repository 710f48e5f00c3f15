package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты переходов для метки result.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultConflict = "conflict"
	ResultError    = "error"
)

// NegotiationMetrics содержит метрики переговорного движка и sweeper'а.
type NegotiationMetrics struct {
	transitions        *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	cascadeRejections  prometheus.Counter
	conflictRetries    *prometheus.CounterVec

	sweeperRuns    *prometheus.CounterVec
	sweeperExpired prometheus.Counter
	sweeperLastRun prometheus.Gauge

	notifications *prometheus.CounterVec
}

// NewNegotiationMetrics регистрирует метрики в default registry.
func NewNegotiationMetrics() *NegotiationMetrics {
	return NewNegotiationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewNegotiationMetricsWithRegisterer позволяет изолировать метрики в тестах.
func NewNegotiationMetricsWithRegisterer(registerer prometheus.Registerer) *NegotiationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &NegotiationMetrics{
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "offers_transitions_total",
			Help: "Total number of offer transitions grouped by action and result",
		}, []string{"action", "result"}),
		transitionDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "offers_transition_duration_seconds",
			Help:    "Duration of offer transitions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"action"}),
		cascadeRejections: registerCounter(registerer, prometheus.CounterOpts{
			Name: "offers_cascade_rejections_total",
			Help: "Total number of pending offers rejected because another offer was accepted",
		}),
		conflictRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "offers_conflict_retries_total",
			Help: "Total number of internal retries after a concurrent modification",
		}, []string{"action"}),
		sweeperRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "offers_sweeper_runs_total",
			Help: "Total number of expiration sweeps grouped by result",
		}, []string{"result"}),
		sweeperExpired: registerCounter(registerer, prometheus.CounterOpts{
			Name: "offers_sweeper_expired_total",
			Help: "Total number of offers moved to EXPIRED by the sweeper",
		}),
		sweeperLastRun: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "offers_sweeper_last_expired",
			Help: "Number of offers expired during the last sweep",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "offers_notifications_total",
			Help: "Total number of notification commands grouped by result",
		}, []string{"result"}),
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

// RecordTransition фиксирует исход перехода и его длительность.
// Методы безопасны на nil-получателе, чтобы движок работал без метрик.
func (m *NegotiationMetrics) RecordTransition(action, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, result).Inc()
	m.transitionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordCascadeRejections увеличивает счётчик каскадных отклонений.
func (m *NegotiationMetrics) RecordCascadeRejections(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cascadeRejections.Add(float64(n))
}

// RecordConflictRetry фиксирует внутренний повтор после конфликта.
func (m *NegotiationMetrics) RecordConflictRetry(action string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(action).Inc()
}

// RecordSweep фиксирует прогон sweeper'а.
func (m *NegotiationMetrics) RecordSweep(result string, expired int) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.sweeperLastRun.Set(float64(expired))
	}
	if expired > 0 {
		m.sweeperExpired.Add(float64(expired))
	}
}

// RecordNotification фиксирует результат постановки уведомления.
func (m *NegotiationMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
