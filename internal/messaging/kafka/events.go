package kafka

import (
	"encoding/json"
	"time"
)

// Topics уведомлений.
const (
	TopicNotifications    = "marketplace.notifications"
	TopicNotificationsDLQ = "marketplace.notifications.dlq"
)

// Kafka headers; позволяют фильтровать сообщения без разбора payload.
const (
	HeaderEventType   = "x-event-type"
	HeaderRecipientID = "x-recipient-id"
	HeaderOutboxID    = "x-outbox-id"
	HeaderDeadLetter  = "x-dead-letter"
	HeaderReplayed    = "x-replayed"
)

// NotificationEvent: сообщение в topic уведомлений.
type NotificationEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	RecipientID   string          `json:"recipient_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}
