package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// AggregateType помечает сообщения outbox, которые несут уведомления.
const AggregateType = "notification"

var errRecipientRequired = errors.New("notification recipient is required")

// Envelope: формат уведомления в outbox и во внешних каналах доставки.
type Envelope struct {
	ID string `json:"id"`
	domain.NotificationCommand
	CreatedAt time.Time `json:"created_at"`
}

// DecodeEnvelope разбирает payload сообщения outbox.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode notification envelope: %w", err)
	}
	return env, nil
}

// OutboxNotifier ставит уведомление в outbox уже после коммита транзакции оффера,
// отдельной записью; доставку выполняет outbox.Worker.
type OutboxNotifier struct {
	repo   domain.OutboxRepository
	logger *log.Entry
	now    func() time.Time
}

// OutboxNotifierOption настраивает OutboxNotifier.
type OutboxNotifierOption func(*OutboxNotifier)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) OutboxNotifierOption {
	return func(n *OutboxNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) OutboxNotifierOption {
	return func(n *OutboxNotifier) {
		if now != nil {
			n.now = now
		}
	}
}

// NewOutboxNotifier создаёт notifier поверх outbox-репозитория.
func NewOutboxNotifier(repo domain.OutboxRepository, options ...OutboxNotifierOption) *OutboxNotifier {
	n := &OutboxNotifier{
		repo:   repo,
		logger: log.WithField("component", "notification-outbox"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(n)
	}
	return n
}

// Notify сериализует команду и сохраняет её в outbox.
func (n *OutboxNotifier) Notify(ctx context.Context, cmd domain.NotificationCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cmd.RecipientUserID == "" {
		return errRecipientRequired
	}

	env := Envelope{ID: uuid.NewString(), NotificationCommand: cmd, CreatedAt: n.now()}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg, err := n.repo.Enqueue(domain.OutboxMessage{
		ID:            env.ID,
		AggregateType: AggregateType,
		AggregateID:   cmd.RecipientUserID,
		EventType:     string(cmd.Type),
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"recipient_id": cmd.RecipientUserID,
		"type":         cmd.Type,
	}).Debug("notification enqueued")
	return nil
}

// LogPublisher только пишет уведомление в лог.
// Используется, когда ни Kafka, ни Redis не настроены.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт LogPublisher.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "notification-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

// Publish выводит уведомление в лог.
func (p *LogPublisher) Publish(msg domain.OutboxMessage) error {
	env, err := DecodeEnvelope(msg.Payload)
	if err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"notification_id": env.ID,
		"recipient_id":    env.RecipientUserID,
		"type":            env.Type,
		"link":            env.LinkRef,
	}).Info(env.Title)
	return nil
}
