package negotiation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// CreateOfferRequest содержит входные данные покупателя для нового оффера.
type CreateOfferRequest struct {
	ListingID    string
	OfferedPrice decimal.Decimal
	Quantity     int
	Message      string
}

// CounterOfferRequest несёт встречную цену продавца. Количество наследуется от родителя.
type CounterOfferRequest struct {
	CounterPrice decimal.Decimal
	Message      string
}

// RejectOfferRequest несёт необязательную причину отклонения.
type RejectOfferRequest struct {
	Reason string
}

// OfferView: оффер с вычисляемыми флагами и суммами. Флаги не хранятся.
type OfferView struct {
	ID            string             `json:"id"`
	ListingID     string             `json:"listing_id"`
	BuyerID       string             `json:"buyer_id"`
	SellerID      string             `json:"seller_id"`
	OfferedPrice  decimal.Decimal    `json:"offered_price"`
	Quantity      int                `json:"quantity"`
	Message       string             `json:"message,omitempty"`
	Status        domain.OfferStatus `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	ParentOfferID string             `json:"parent_offer_id,omitempty"`
	ExpiresAt     time.Time          `json:"expires_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`

	IsExpired      bool `json:"is_expired"`
	CanBeAccepted  bool `json:"can_be_accepted"`
	CanBeCountered bool `json:"can_be_countered"`

	TotalPrice         decimal.Decimal `json:"total_price"`
	ListingTitle       string          `json:"listing_title,omitempty"`
	ListingImageURL    string          `json:"listing_image_url,omitempty"`
	ListingPrice       decimal.Decimal `json:"listing_price"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountPercentage float64         `json:"discount_percentage"`
}

// Party описывает другую сторону переговоров относительно вызывающего.
type Party struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// OfferSummary: строка списка отправленных или полученных офферов.
type OfferSummary struct {
	OfferView
	OtherParty Party `json:"other_party"`
}

// OfferSummaryPage: страница сводок.
type OfferSummaryPage struct {
	Items []OfferSummary `json:"items"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
	Total int            `json:"total"`
}

// OfferChain: исходный оффер и все встречные, по возрастанию createdAt.
type OfferChain struct {
	RootOfferID string      `json:"root_offer_id"`
	Offers      []OfferView `json:"offers"`
}

// buildView собирает представление; listing может отсутствовать, тогда суммы скидки нулевые.
func buildView(offer domain.Offer, listing *domain.Listing, now time.Time) OfferView {
	view := OfferView{
		ID:             offer.ID,
		ListingID:      offer.ListingID,
		BuyerID:        offer.BuyerID,
		SellerID:       offer.SellerID,
		OfferedPrice:   offer.OfferedPrice,
		Quantity:       offer.Quantity,
		Message:        offer.Message,
		Status:         offer.Status,
		Reason:         offer.Reason,
		ParentOfferID:  offer.ParentOfferID,
		ExpiresAt:      offer.ExpiresAt,
		CreatedAt:      offer.CreatedAt,
		UpdatedAt:      offer.UpdatedAt,
		IsExpired:      offer.IsExpired(now),
		CanBeAccepted:  offer.CanBeAccepted(now),
		CanBeCountered: offer.CanBeCountered(now),
	}

	if listing == nil {
		view.TotalPrice = offer.OfferedPrice.Mul(decimal.NewFromInt(int64(offer.Quantity))).Round(domain.MoneyScale)
		return view
	}

	pricing := domain.ComputePricing(offer.OfferedPrice, offer.Quantity, listing.Price)
	view.TotalPrice = pricing.TotalPrice
	view.ListingTitle = listing.Title
	view.ListingImageURL = listing.ImageURL
	view.ListingPrice = listing.Price
	view.DiscountAmount = pricing.DiscountAmount
	view.DiscountPercentage = pricing.DiscountPercentageFloat()
	return view
}
