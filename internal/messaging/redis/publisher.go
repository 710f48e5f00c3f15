package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

const (
	// DefaultChannelPrefix задаёт префикс канала уведомлений пользователя.
	DefaultChannelPrefix = "offers:notifications"
	publishTimeout       = 3 * time.Second
)

var errRecipientMissing = errors.New("redis publisher: recipient is empty")

// publishClient покрывает часть go-redis API, нужную паблишеру.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher отправляет уведомления в канал "<prefix>:<recipientUserId>".
// Pub/Sub не хранит сообщения: если подписчиков нет, уведомление теряется,
// поэтому число получателей только логируется.
type Publisher struct {
	client publishClient
	prefix string
	logger *log.Entry
}

// NewPublisher создает паблишер поверх клиента.
func NewPublisher(c *Client, prefix string) *Publisher {
	return newPublisher(c.rdb, prefix)
}

func newPublisher(client publishClient, prefix string) *Publisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		logger: log.WithField("component", "redis-notification-publisher"),
	}
}

// Channel возвращает канал получателя.
func (p *Publisher) Channel(recipientID string) string {
	return p.prefix + ":" + recipientID
}

// Publish реализует domain.OutboxPublisher.
func (p *Publisher) Publish(msg domain.OutboxMessage) error {
	if msg.AggregateID == "" {
		return errRecipientMissing
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channel := p.Channel(msg.AggregateID)
	receivers, err := p.client.Publish(ctx, channel, msg.Payload).Result()
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}

	p.logger.WithFields(log.Fields{
		"channel":    channel,
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"receivers":  receivers,
	}).Debug("notification published")
	return nil
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
