package notification

import (
	"bytes"
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/storage/memory"
)

func TestOutboxNotifier_EnqueuesEnvelope(t *testing.T) {
	repo := memory.NewOutboxRepository()
	createdAt := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	notifier := NewOutboxNotifier(repo, WithClock(func() time.Time { return createdAt }))

	cmd := domain.NotificationCommand{
		RecipientUserID: "seller-1",
		Type:            domain.NotificationNewOffer,
		Title:           "New offer",
		Message:         "You received an offer",
		LinkRef:         "/offers/offer-1",
		Metadata:        map[string]string{"offer_id": "offer-1"},
	}
	require.NoError(t, notifier.Notify(context.Background(), cmd))

	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	msg := pending[0]
	assert.Equal(t, AggregateType, msg.AggregateType)
	assert.Equal(t, "seller-1", msg.AggregateID)
	assert.Equal(t, "NEW_OFFER", msg.EventType)

	env, err := DecodeEnvelope(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, env.ID)
	assert.Equal(t, cmd, env.NotificationCommand)
	assert.True(t, env.CreatedAt.Equal(createdAt))
}

func TestOutboxNotifier_RejectsMissingRecipient(t *testing.T) {
	repo := memory.NewOutboxRepository()
	notifier := NewOutboxNotifier(repo)

	err := notifier.Notify(context.Background(), domain.NotificationCommand{Type: domain.NotificationOfferExpired})
	require.ErrorIs(t, err, errRecipientRequired)

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestOutboxNotifier_CancelledContext(t *testing.T) {
	notifier := NewOutboxNotifier(memory.NewOutboxRepository())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := notifier.Notify(ctx, domain.NotificationCommand{RecipientUserID: "buyer-1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLogPublisher_WritesNotification(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.JSONFormatter{})

	repo := memory.NewOutboxRepository()
	require.NoError(t, NewOutboxNotifier(repo).Notify(context.Background(), domain.NotificationCommand{
		RecipientUserID: "buyer-1",
		Type:            domain.NotificationOfferAccepted,
		Title:           "Offer accepted",
	}))
	pending, err := repo.PullPending(1)
	require.NoError(t, err)

	publisher := NewLogPublisher(log.NewEntry(logger))
	require.NoError(t, publisher.Publish(pending[0]))

	assert.Contains(t, buf.String(), `"recipient_id":"buyer-1"`)
	assert.Contains(t, buf.String(), `"msg":"Offer accepted"`)
}

func TestLogPublisher_RejectsGarbage(t *testing.T) {
	err := NewLogPublisher(nil).Publish(domain.OutboxMessage{Payload: []byte("not json")})
	require.Error(t, err)
}
