package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OfferStatus описывает положение оффера в цепочке переговоров.
type OfferStatus string

const (
	// OfferStatusPending: оффер ожидает решения продавца.
	OfferStatusPending OfferStatus = "PENDING"
	// OfferStatusCounterOffered: продавец ответил встречным предложением, переговоры продолжаются в дочернем оффере.
	OfferStatusCounterOffered OfferStatus = "COUNTER_OFFERED"
	// OfferStatusAccepted: условия оффера приняты продавцом.
	OfferStatusAccepted OfferStatus = "ACCEPTED"
	// OfferStatusRejected: оффер отклонён продавцом или каскадом при принятии другого оффера.
	OfferStatusRejected OfferStatus = "REJECTED"
	// OfferStatusCancelled: покупатель отозвал оффер.
	OfferStatusCancelled OfferStatus = "CANCELLED"
	// OfferStatusExpired: оффер просрочен и закрыт sweeper'ом.
	OfferStatusExpired OfferStatus = "EXPIRED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusPending, OfferStatusCounterOffered, OfferStatusAccepted,
		OfferStatusRejected, OfferStatusCancelled, OfferStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s OfferStatus) IsTerminal() bool {
	return s.Valid() && s != OfferStatusPending
}

// CanTransitionTo описывает допустимые рёбра автомата состояний.
// Все переходы выходят только из PENDING.
func (s OfferStatus) CanTransitionTo(next OfferStatus) bool {
	if s != OfferStatusPending {
		return false
	}
	switch next {
	case OfferStatusCounterOffered, OfferStatusAccepted, OfferStatusRejected,
		OfferStatusCancelled, OfferStatusExpired:
		return true
	default:
		return false
	}
}

// Offer — предложение покупателя по цене и количеству для объявления.
type Offer struct {
	ID        string
	ListingID string
	BuyerID   string
	SellerID  string
	// OfferedPrice: цена за единицу, фиксированная точка с двумя знаками.
	OfferedPrice decimal.Decimal
	Quantity     int
	Message      string
	Status       OfferStatus
	ExpiresAt    time.Time
	// ParentOfferID пустой у исходного оффера и указывает на родителя у встречного.
	ParentOfferID string
	// Reason хранит причину отклонения, если она была указана.
	Reason    string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired: вычисляемый признак, в хранилище не пишется.
func (o Offer) IsExpired(now time.Time) bool {
	return o.Status == OfferStatusPending && now.After(o.ExpiresAt)
}

// CanBeAccepted сообщает, можно ли принять оффер в момент now.
func (o Offer) CanBeAccepted(now time.Time) bool {
	return o.Status == OfferStatusPending && !o.IsExpired(now)
}

// CanBeCountered использует то же правило, что и CanBeAccepted.
func (o Offer) CanBeCountered(now time.Time) bool {
	return o.CanBeAccepted(now)
}

// IsCounterOffer сообщает, что оффер создан продавцом в ответ на другой.
func (o Offer) IsCounterOffer() bool {
	return o.ParentOfferID != ""
}

// IsParticipant проверяет, что пользователь является покупателем или продавцом.
func (o Offer) IsParticipant(userID string) bool {
	return userID != "" && (o.BuyerID == userID || o.SellerID == userID)
}

// Listing — снимок объявления на момент операции. Владеет данными внешний каталог.
type Listing struct {
	ID                string
	OwnerID           string
	Title             string
	ImageURL          string
	Price             decimal.Decimal
	AvailableQuantity int
	IsActive          bool
}

// User: минимальные данные пользователя, нужные для проекций.
type User struct {
	ID          string
	DisplayName string
}
