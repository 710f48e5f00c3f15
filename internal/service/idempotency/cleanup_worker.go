package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
)

// Expirer удаляет ключи с истёкшим TTL пачками.
type Expirer interface {
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize ограничивает число ключей, удаляемых одним запросом.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithClock подменяет источник времени для отсечки TTL.
func WithClock(clock func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func WithMetrics(m *metrics.BackgroundMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// CleanupWorker периодически удаляет просроченные ключи Idempotency-Key.
type CleanupWorker struct {
	store     Expirer
	logger    *log.Entry
	metrics   *metrics.BackgroundMetrics
	clock     func() time.Time
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создаёт воркер очистки. Подходит любой domain.IdempotencyRepository.
func NewCleanupWorker(store Expirer, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		store:     store,
		logger:    log.WithField("component", "idempotency-cleanup-worker"),
		clock:     func() time.Time { return time.Now().UTC() },
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run чистит ключи сразу и затем по тикеру до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.store == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: store is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce удаляет всё, что истекло к текущему моменту.
func (w *CleanupWorker) RunOnce(ctx context.Context) int {
	deleted, err := w.DeleteExpired(ctx, w.clock())
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		w.metrics.RecordCleanup(metrics.ResultError, deleted)
		w.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency cleanup run failed")
	default:
		w.metrics.RecordCleanup(metrics.ResultOK, deleted)
		if deleted > 0 {
			w.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
	return deleted
}

// DeleteExpired удаляет ключи с TTL <= before, пока очередная пачка не окажется неполной.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.clock()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := w.store.DeleteExpired(before, w.batchSize)
		total += deleted
		if err != nil {
			return total, err
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}

var _ Expirer = (domain.IdempotencyRepository)(nil)
