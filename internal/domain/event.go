package domain

import "time"

// OfferEventType перечисляет записи истории переговоров.
type OfferEventType string

const (
	OfferEventCreated        OfferEventType = "OFFER_CREATED"
	OfferEventCountered      OfferEventType = "OFFER_COUNTERED"
	OfferEventCounterCreated OfferEventType = "COUNTER_CREATED"
	OfferEventAccepted       OfferEventType = "OFFER_ACCEPTED"
	OfferEventRejected       OfferEventType = "OFFER_REJECTED"
	OfferEventCancelled      OfferEventType = "OFFER_CANCELLED"
	OfferEventExpired        OfferEventType = "OFFER_EXPIRED"
)

// ReasonCascade помечает отклонения, вызванные принятием другого оффера.
const ReasonCascade = "cascade"

// OfferEvent — запись истории, пишется в той же единице работы, что и переход.
type OfferEvent struct {
	ID         string
	OfferID    string
	ListingID  string
	ActorID    string
	Type       OfferEventType
	FromStatus OfferStatus
	ToStatus   OfferStatus
	Reason     string
	OccurredAt time.Time
}
