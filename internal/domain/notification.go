package domain

// NotificationType: тип уведомления для получателя.
type NotificationType string

const (
	NotificationNewOffer       NotificationType = "NEW_OFFER"
	NotificationCounterOffer   NotificationType = "COUNTER_OFFER"
	NotificationOfferAccepted  NotificationType = "OFFER_ACCEPTED"
	NotificationOfferRejected  NotificationType = "OFFER_REJECTED"
	NotificationOfferCancelled NotificationType = "OFFER_CANCELLED"
	NotificationOfferExpired   NotificationType = "OFFER_EXPIRED"
)

// NotificationCommand — команда на доставку уведомления, формируется после коммита перехода.
type NotificationCommand struct {
	RecipientUserID string            `json:"recipient_user_id"`
	Type            NotificationType  `json:"type"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	LinkRef         string            `json:"link_ref,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
