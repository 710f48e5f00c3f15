package negotiation

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// maxChainDepth ограничивает обход родителей на случай повреждённых данных.
const maxChainDepth = 256

// GetOfferByID возвращает оффер покупателю или продавцу.
func (e *Engine) GetOfferByID(ctx context.Context, offerID, userID string) (OfferView, error) {
	if err := validateActor(offerID, userID); err != nil {
		return OfferView{}, err
	}
	offer, err := e.store.Get(ctx, offerID)
	if err != nil {
		return OfferView{}, err
	}
	if !offer.IsParticipant(userID) {
		return OfferView{}, domain.ErrNotParticipant
	}

	listing, ok := e.lookupListing(ctx, offer.ListingID)
	return e.viewWith(offer, listing, ok), nil
}

// GetOfferChain возвращает исходный оффер и все встречные по возрастанию createdAt.
// Доступ проверяется по покупателю и продавцу первого узла цепочки.
func (e *Engine) GetOfferChain(ctx context.Context, offerID, userID string) (OfferChain, error) {
	if err := validateActor(offerID, userID); err != nil {
		return OfferChain{}, err
	}
	offer, err := e.store.Get(ctx, offerID)
	if err != nil {
		return OfferChain{}, err
	}

	root, err := e.findRoot(ctx, offer)
	if err != nil {
		return OfferChain{}, err
	}
	if !root.IsParticipant(userID) {
		return OfferChain{}, domain.ErrNotParticipant
	}

	nodes := []domain.Offer{root}
	seen := map[string]bool{root.ID: true}
	for i := 0; i < len(nodes) && len(nodes) < maxChainDepth; i++ {
		children, err := e.store.ListByParent(ctx, nodes[i].ID)
		if err != nil {
			return OfferChain{}, err
		}
		for _, child := range children {
			if !seen[child.ID] {
				seen[child.ID] = true
				nodes = append(nodes, child)
			}
		}
	}
	// Обход в ширину уже даёт порядок родитель-потомок для равных createdAt.
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].CreatedAt.Before(nodes[j].CreatedAt) })

	listing, ok := e.lookupListing(ctx, root.ListingID)
	chain := OfferChain{RootOfferID: root.ID, Offers: make([]OfferView, 0, len(nodes))}
	for _, node := range nodes {
		chain.Offers = append(chain.Offers, e.viewWith(node, listing, ok))
	}
	return chain, nil
}

func (e *Engine) findRoot(ctx context.Context, offer domain.Offer) (domain.Offer, error) {
	current := offer
	for depth := 0; current.ParentOfferID != "" && depth < maxChainDepth; depth++ {
		parent, err := e.store.Get(ctx, current.ParentOfferID)
		if err != nil {
			if domain.IsNotFound(err) {
				break
			}
			return domain.Offer{}, err
		}
		current = parent
	}
	return current, nil
}

// GetOffersSent возвращает офферы, отправленные пользователем как покупателем.
func (e *Engine) GetOffersSent(ctx context.Context, userID string, filter domain.OfferFilter) (OfferSummaryPage, error) {
	return e.summaries(ctx, userID, filter, true)
}

// GetOffersReceived возвращает офферы, полученные пользователем как продавцом.
func (e *Engine) GetOffersReceived(ctx context.Context, userID string, filter domain.OfferFilter) (OfferSummaryPage, error) {
	return e.summaries(ctx, userID, filter, false)
}

func (e *Engine) summaries(ctx context.Context, userID string, filter domain.OfferFilter, sent bool) (OfferSummaryPage, error) {
	if err := domain.ValidateID(userID); err != nil {
		return OfferSummaryPage{}, err
	}
	filter, err := filter.Normalize()
	if err != nil {
		return OfferSummaryPage{}, err
	}

	var page domain.OfferPage
	if sent {
		page, err = e.store.ListByBuyer(ctx, userID, filter)
	} else {
		page, err = e.store.ListBySeller(ctx, userID, filter)
	}
	if err != nil {
		return OfferSummaryPage{}, err
	}

	listings := make(map[string]*domain.Listing)
	parties := make(map[string]Party)
	result := OfferSummaryPage{
		Items: make([]OfferSummary, 0, len(page.Items)),
		Page:  filter.Page,
		Size:  filter.Size,
		Total: page.Total,
	}
	for _, offer := range page.Items {
		listing, cached := listings[offer.ListingID]
		if !cached {
			if l, ok := e.lookupListing(ctx, offer.ListingID); ok {
				listing = &l
			}
			listings[offer.ListingID] = listing
		}

		otherID := offer.BuyerID
		if sent {
			otherID = offer.SellerID
		}
		party, cached := parties[otherID]
		if !cached {
			party = e.resolveParty(ctx, otherID)
			parties[otherID] = party
		}

		result.Items = append(result.Items, OfferSummary{
			OfferView:  buildView(offer, listing, e.now()),
			OtherParty: party,
		})
	}
	return result, nil
}

// resolveParty подставляет идентификатор, если справочник пользователей недоступен.
func (e *Engine) resolveParty(ctx context.Context, userID string) Party {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil || user.DisplayName == "" {
		if err != nil {
			e.logger.WithError(err).WithField("user_id", userID).Debug("user lookup failed, falling back to id")
		}
		return Party{ID: userID, DisplayName: userID}
	}
	return Party{ID: user.ID, DisplayName: user.DisplayName}
}

// CountPendingSent считает PENDING офферы пользователя как покупателя.
func (e *Engine) CountPendingSent(ctx context.Context, userID string) (int, error) {
	if err := domain.ValidateID(userID); err != nil {
		return 0, err
	}
	return e.store.CountPendingByBuyer(ctx, userID)
}

// CountPendingReceived считает PENDING офферы пользователя как продавца.
func (e *Engine) CountPendingReceived(ctx context.Context, userID string) (int, error) {
	if err := domain.ValidateID(userID); err != nil {
		return 0, err
	}
	return e.store.CountPendingBySeller(ctx, userID)
}

// GetOfferHistory возвращает историю переходов оффера в хронологическом порядке.
func (e *Engine) GetOfferHistory(ctx context.Context, offerID, userID string) ([]domain.OfferEvent, error) {
	if err := validateActor(offerID, userID); err != nil {
		return nil, err
	}
	offer, err := e.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !offer.IsParticipant(userID) {
		return nil, domain.ErrNotParticipant
	}

	events, err := e.store.ListEvents(ctx, offerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	return events, nil
}
