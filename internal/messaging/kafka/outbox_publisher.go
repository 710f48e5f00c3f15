package kafka

import (
	"encoding/json"
	"errors"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

var errPublisherNotInitialized = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher публикует уведомления из outbox в Kafka topic.
// Ключом сообщения служит получатель, поэтому уведомления одного пользователя
// попадают в одну партицию и сохраняют порядок.
type OutboxTopicPublisher struct {
	producer   *Producer
	topic      string
	deadLetter bool
}

// NewOutboxPublisher создаёт паблишер основного topic уведомлений.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicNotifications
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// NewDLQPublisher создаёт паблишер для сообщений, исчерпавших попытки доставки.
func NewDLQPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicNotificationsDLQ
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, deadLetter: true}
}

// Publish отправляет сообщение outbox как NotificationEvent.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotInitialized
	}

	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		raw, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return err
		}
		payload = raw
	}

	event := NotificationEvent{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		RecipientID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   p.producer.clock(),
	}
	headers := map[string]string{
		HeaderEventType:   msg.EventType,
		HeaderRecipientID: msg.AggregateID,
		HeaderOutboxID:    msg.ID,
	}
	if p.deadLetter {
		headers[HeaderDeadLetter] = "true"
	}
	return p.producer.PublishEvent(p.topic, key, event, headers)
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
