package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

func outboxNotification(recipient string, kind domain.NotificationType) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: "notification",
		AggregateID:   recipient,
		EventType:     string(kind),
		Payload:       []byte(`{"type":"` + string(kind) + `"}`),
	}
}

func TestOutboxRepository_FIFOAndLimit(t *testing.T) {
	repo := NewOutboxRepository()

	first, err := repo.Enqueue(outboxNotification("seller-1", domain.NotificationNewOffer))
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	fixed := outboxNotification("buyer-1", domain.NotificationCounterOffer)
	fixed.ID = "outbox-2"
	second, err := repo.Enqueue(fixed)
	require.NoError(t, err)
	assert.Equal(t, "outbox-2", second.ID)

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{first.ID, "outbox-2"}, []string{pending[0].ID, pending[1].ID})

	limited, err := repo.PullPending(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, first.ID, limited[0].ID)

	limited[0].Payload[0] = 'X'
	assert.Equal(t, byte('{'), repo.Pending()[0].Payload[0])
}

func TestOutboxRepository_RejectsIncompleteMessages(t *testing.T) {
	repo := NewOutboxRepository()

	_, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "notification", EventType: "NEW_OFFER"})
	assert.ErrorIs(t, err, domain.ErrOutboxMessageInvalid)
	_, err = repo.Enqueue(domain.OutboxMessage{AggregateID: "buyer-1"})
	assert.ErrorIs(t, err, domain.ErrOutboxMessageInvalid)
	assert.Empty(t, repo.Pending())
}

func TestOutboxRepository_SettleAndStats(t *testing.T) {
	repo := NewOutboxRepository()
	queuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return queuedAt }

	sent, err := repo.Enqueue(outboxNotification("seller-1", domain.NotificationNewOffer))
	require.NoError(t, err)

	repo.clock = func() time.Time { return queuedAt.Add(time.Minute) }
	failed, err := repo.Enqueue(outboxNotification("buyer-1", domain.NotificationOfferExpired))
	require.NoError(t, err)

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStats{PendingCount: 2, OldestPendingAt: queuedAt}, stats)

	require.NoError(t, repo.MarkSent(sent.ID))
	stats, err = repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, queuedAt.Add(time.Minute), stats.OldestPendingAt)

	require.NoError(t, repo.MarkFailed(failed.ID))
	stats, err = repo.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())

	assert.ErrorIs(t, repo.MarkFailed(sent.ID), domain.ErrOutboxMessageNotFound)
	assert.ErrorIs(t, repo.MarkSent("missing"), domain.ErrOutboxMessageNotFound)
}
