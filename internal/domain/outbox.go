package domain

import (
	"strings"
	"time"
)

// OutboxStatus описывает состояние сообщения в outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed: попытки исчерпаны, сообщение ушло в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage: уведомление, ожидающее доставки.
// AggregateID хранит получателя, EventType хранит тип уведомления.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Validate проверяет поля, без которых сообщение нельзя доставить.
func (m OutboxMessage) Validate() error {
	if strings.TrimSpace(m.AggregateID) == "" || strings.TrimSpace(m.EventType) == "" {
		return ErrOutboxMessageInvalid
	}
	return nil
}

// OutboxStats описывает backlog недоставленных сообщений.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
