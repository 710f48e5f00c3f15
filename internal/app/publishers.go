package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/messaging/redis"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/service/notification"
)

// notificationTransport описывает, куда outbox worker доставляет уведомления.
type notificationTransport struct {
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	name      string
	// ping есть у транспортов с постоянным подключением.
	ping    func(ctx context.Context) error
	closers []func() error
}

func (t notificationTransport) close(logger *log.Entry) {
	for _, closeFn := range t.closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).WithField("transport", t.name).Warn("failed to close notification transport")
		}
	}
}

// initNotificationTransport выбирает Kafka, затем Redis; без них уведомления пишутся в лог.
// Ошибка подключения не останавливает сервис: используется следующий вариант.
func initNotificationTransport(ctx context.Context, cfg Config, logger *log.Entry) notificationTransport {
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: brokers, ClientID: cfg.KafkaClientID})
		if err == nil {
			logger.WithField("brokers", brokers).Info("kafka producer initialized")
			return notificationTransport{
				publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaNotificationTopic),
				dlq:       kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic),
				name:      "kafka",
				closers:   []func() error{producer.Close},
			}
		}
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
	}

	if cfg.RedisAddr != "" {
		client, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			logger.WithField("addr", cfg.RedisAddr).Info("redis notification publisher initialized")
			return notificationTransport{
				publisher: redis.NewPublisher(client, cfg.RedisChannelPrefix),
				name:      "redis",
				ping:      client.Ping,
				closers:   []func() error{client.Close},
			}
		}
		logger.WithError(err).Warn("failed to connect to redis, continuing without redis")
	}

	return notificationTransport{
		publisher: notification.NewLogPublisher(logger.WithField("transport", "log")),
		name:      "log",
	}
}
