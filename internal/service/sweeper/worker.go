package sweeper

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/metrics"
)

const defaultInterval = 5 * time.Minute

// Expirer переводит просроченные PENDING офферы в EXPIRED и возвращает их число.
type Expirer interface {
	ExpireOffers(ctx context.Context) (int, error)
}

// Options задает параметры sweeper'а.
type Options struct {
	Logger   *log.Entry
	Interval time.Duration
	Metrics  *metrics.NegotiationMetrics
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает период между прогонами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithMetrics подключает метрики прогонов.
func WithMetrics(m *metrics.NegotiationMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// Worker периодически истекает офферы, у которых прошёл expiresAt.
// Прогоны независимы: ошибка одного не останавливает следующий.
type Worker struct {
	expirer  Expirer
	logger   *log.Entry
	interval time.Duration
	metrics  *metrics.NegotiationMetrics
}

// NewWorker создает sweeper.
func NewWorker(expirer Expirer, options ...Option) *Worker {
	opts := Options{Interval: defaultInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "offer-expiration-sweeper")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}

	return &Worker{
		expirer:  expirer,
		logger:   logger,
		interval: opts.Interval,
		metrics:  opts.Metrics,
	}
}

// Run выполняет первый прогон сразу и затем по тикеру до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.expirer == nil {
		w.logger.Warn("offer expiration sweeper is disabled: expirer is nil")
		return
	}

	w.logger.WithField("interval", w.interval.String()).Info("offer expiration sweeper started")
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("offer expiration sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один прогон и возвращает число истекших офферов.
func (w *Worker) RunOnce(ctx context.Context) int {
	expired, err := w.expirer.ExpireOffers(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return expired
		}
		w.metrics.RecordSweep(metrics.ResultError, expired)
		w.logger.WithError(err).WithField("expired", expired).Warn("offer expiration run failed")
		return expired
	}

	w.metrics.RecordSweep(metrics.ResultOK, expired)
	if expired > 0 {
		w.logger.WithField("expired", expired).Info("expired pending offers")
	}
	return expired
}
