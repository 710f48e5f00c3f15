package idempotency

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/storage/memory"
)

type scriptedExpirer struct {
	results []int
	errs    []error
	befores []time.Time
}

func (s *scriptedExpirer) DeleteExpired(before time.Time, _ int) (int, error) {
	s.befores = append(s.befores, before)
	call := len(s.befores) - 1

	var err error
	if call < len(s.errs) {
		err = s.errs[call]
	}
	if call < len(s.results) {
		return s.results[call], err
	}
	return 0, err
}

func TestCleanupWorker_DrainsMemoryStoreInBatches(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepository(memory.WithIdempotencyClock(func() time.Time { return now }))
	for i := range 5 {
		_, err := repo.CreateProcessing(fmt.Sprintf("buyer-1:k-%d", i), "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing("buyer-1:live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo,
		WithBatchSize(2),
		WithClock(func() time.Time { return now }),
		WithMetrics(metrics.NewBackgroundMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	assert.Equal(t, 5, worker.RunOnce(context.Background()))
	_, err = repo.Get("buyer-1:live")
	assert.NoError(t, err)
}

func TestCleanupWorker_StopsOnPartialBatch(t *testing.T) {
	store := &scriptedExpirer{results: []int{3, 3, 1}}
	worker := NewCleanupWorker(store, WithBatchSize(3))

	deleted, err := worker.DeleteExpired(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7, deleted)
	assert.Len(t, store.befores, 3)
	assert.False(t, store.befores[0].IsZero())
}

func TestCleanupWorker_ErrorKeepsPartialCount(t *testing.T) {
	store := &scriptedExpirer{results: []int{2, 0}, errs: []error{nil, errors.New("db is down")}}
	worker := NewCleanupWorker(store, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now())
	require.ErrorContains(t, err, "db is down")
	assert.Equal(t, 2, deleted)
}

func TestCleanupWorker_CancelledContext(t *testing.T) {
	store := &scriptedExpirer{}
	worker := NewCleanupWorker(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := worker.DeleteExpired(ctx, time.Now())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, worker.RunOnce(ctx))
	assert.Empty(t, store.befores)
}

func TestCleanupWorker_RunStopsOnCancel(t *testing.T) {
	worker := NewCleanupWorker(memory.NewIdempotencyRepository(), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop")
	}
}

func TestCleanupWorker_NilStore(t *testing.T) {
	NewCleanupWorker(nil).Run(context.Background())
}
