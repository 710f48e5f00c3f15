package negotiation

import (
	"fmt"
	"strconv"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

func offerLink(offerID string) string {
	return "/offers/" + offerID
}

func listingTitle(listing domain.Listing, ok bool) string {
	if !ok || listing.Title == "" {
		return "your listing"
	}
	return listing.Title
}

func offerMetadata(offer domain.Offer) map[string]string {
	meta := map[string]string{
		"offer_id":   offer.ID,
		"listing_id": offer.ListingID,
		"price":      offer.OfferedPrice.StringFixed(domain.MoneyScale),
		"quantity":   strconv.Itoa(offer.Quantity),
		"status":     string(offer.Status),
	}
	if offer.ParentOfferID != "" {
		meta["parent_offer_id"] = offer.ParentOfferID
	}
	return meta
}

func newOfferNotification(offer domain.Offer, title string) domain.NotificationCommand {
	return domain.NotificationCommand{
		RecipientUserID: offer.SellerID,
		Type:            domain.NotificationNewOffer,
		Title:           "New offer received",
		Message: fmt.Sprintf("You received an offer of %s x %d for %q",
			offer.OfferedPrice.StringFixed(domain.MoneyScale), offer.Quantity, title),
		LinkRef:  offerLink(offer.ID),
		Metadata: offerMetadata(offer),
	}
}

func counterOfferNotification(child domain.Offer, title string) domain.NotificationCommand {
	return domain.NotificationCommand{
		RecipientUserID: child.BuyerID,
		Type:            domain.NotificationCounterOffer,
		Title:           "Counter-offer received",
		Message: fmt.Sprintf("The seller countered with %s per item for %q",
			child.OfferedPrice.StringFixed(domain.MoneyScale), title),
		LinkRef:  offerLink(child.ID),
		Metadata: offerMetadata(child),
	}
}

func acceptedNotification(offer domain.Offer, title string) domain.NotificationCommand {
	return domain.NotificationCommand{
		RecipientUserID: offer.BuyerID,
		Type:            domain.NotificationOfferAccepted,
		Title:           "Offer accepted",
		Message:         fmt.Sprintf("Your offer for %q was accepted", title),
		LinkRef:         offerLink(offer.ID),
		Metadata:        offerMetadata(offer),
	}
}

func cascadeRejectedNotification(offer domain.Offer, title string) domain.NotificationCommand {
	cmd := rejectedNotification(offer, title)
	cmd.Message = fmt.Sprintf("Another offer for %q was accepted", title)
	return cmd
}

func rejectedNotification(offer domain.Offer, title string) domain.NotificationCommand {
	message := fmt.Sprintf("Your offer for %q was rejected", title)
	if offer.Reason != "" {
		message += ": " + offer.Reason
	}
	meta := offerMetadata(offer)
	if offer.Reason != "" {
		meta["reason"] = offer.Reason
	}
	return domain.NotificationCommand{
		RecipientUserID: offer.BuyerID,
		Type:            domain.NotificationOfferRejected,
		Title:           "Offer rejected",
		Message:         message,
		LinkRef:         offerLink(offer.ID),
		Metadata:        meta,
	}
}

func cancelledNotification(offer domain.Offer, title string) domain.NotificationCommand {
	return domain.NotificationCommand{
		RecipientUserID: offer.SellerID,
		Type:            domain.NotificationOfferCancelled,
		Title:           "Offer cancelled",
		Message:         fmt.Sprintf("The buyer withdrew the offer for %q", title),
		LinkRef:         offerLink(offer.ID),
		Metadata:        offerMetadata(offer),
	}
}

func expiredNotification(offer domain.Offer) domain.NotificationCommand {
	return domain.NotificationCommand{
		RecipientUserID: offer.BuyerID,
		Type:            domain.NotificationOfferExpired,
		Title:           "Offer expired",
		Message:         "Your offer expired without a response",
		LinkRef:         offerLink(offer.ID),
		Metadata:        offerMetadata(offer),
	}
}
