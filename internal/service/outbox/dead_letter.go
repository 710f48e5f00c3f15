package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// DeadLetter уходит в DLQ после исчерпания попыток доставки.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	RecipientID   string          `json:"recipient_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// deadLetterMessage заворачивает недоставленное сообщение в DeadLetter.
// Невалидный JSON в payload сохраняется строкой.
func deadLetterMessage(msg domain.OutboxMessage, attempts int, cause error, failedAt time.Time) (domain.OutboxMessage, error) {
	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return domain.OutboxMessage{}, fmt.Errorf("quote payload: %w", err)
		}
		payload = quoted
	}

	body, err := json.Marshal(DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		RecipientID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Attempts:      attempts,
		PublishError:  cause.Error(),
		FailedAt:      failedAt,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := msg
	dead.Payload = body
	return dead, nil
}
