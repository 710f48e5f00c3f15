package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// offerStoreInMemory хранит офферы в памяти процесса.
// Единица работы сериализуется мьютексом объявления, изменения копятся
// в транзакции и применяются при коммите с проверкой версий.
type offerStoreInMemory struct {
	mu     sync.RWMutex
	offers map[string]domain.Offer
	events map[string][]domain.OfferEvent

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewOfferStore создаёт in-memory реализацию OfferStore.
func NewOfferStore() *offerStoreInMemory {
	return &offerStoreInMemory{
		offers: make(map[string]domain.Offer),
		events: make(map[string][]domain.OfferEvent),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *offerStoreInMemory) listingLock(listingID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[listingID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[listingID] = lock
	}
	return lock
}

func (s *offerStoreInMemory) WithinTx(ctx context.Context, listingID string, fn func(tx domain.OfferTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.listingLock(listingID)
	lock.Lock()
	defer lock.Unlock()

	tx := &offerTxInMemory{
		store:     s,
		listingID: listingID,
		staged:    make(map[string]domain.Offer),
		readAt:    make(map[string]int64),
		inserted:  make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *offerStoreInMemory) commit(tx *offerTxInMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.staged {
		current, exists := s.offers[id]
		if tx.inserted[id] {
			if exists {
				return fmt.Errorf("insert offer %s: %w", id, domain.ErrOfferVersionConflict)
			}
			continue
		}
		if !exists || current.Version != tx.readAt[id] {
			return fmt.Errorf("commit offer %s: %w", id, domain.ErrOfferVersionConflict)
		}
	}

	// Частичный уникальный индекс: один PENDING на (buyer, listing).
	for id, offer := range tx.staged {
		if offer.Status != domain.OfferStatusPending {
			continue
		}
		for otherID, other := range s.offers {
			if otherID == id {
				continue
			}
			if staged, ok := tx.staged[otherID]; ok {
				other = staged
			}
			if other.Status == domain.OfferStatusPending &&
				other.BuyerID == offer.BuyerID && other.ListingID == offer.ListingID {
				return domain.ErrDuplicatePendingOffer
			}
		}
	}

	for id, offer := range tx.staged {
		s.offers[id] = offer
	}
	for _, event := range tx.events {
		s.events[event.OfferID] = append(s.events[event.OfferID], event)
	}
	return nil
}

func (s *offerStoreInMemory) Get(ctx context.Context, id string) (domain.Offer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Offer{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	offer, ok := s.offers[id]
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	return offer, nil
}

func (s *offerStoreInMemory) ListByParent(ctx context.Context, parentID string) ([]domain.Offer, error) {
	return s.collect(ctx, func(o domain.Offer) bool { return o.ParentOfferID == parentID }, byCreatedAsc)
}

func (s *offerStoreInMemory) ListByBuyer(ctx context.Context, buyerID string, filter domain.OfferFilter) (domain.OfferPage, error) {
	return s.page(ctx, func(o domain.Offer) bool { return o.BuyerID == buyerID }, filter)
}

func (s *offerStoreInMemory) ListBySeller(ctx context.Context, sellerID string, filter domain.OfferFilter) (domain.OfferPage, error) {
	return s.page(ctx, func(o domain.Offer) bool { return o.SellerID == sellerID }, filter)
}

func (s *offerStoreInMemory) CountPendingByBuyer(ctx context.Context, buyerID string) (int, error) {
	offers, err := s.collect(ctx, func(o domain.Offer) bool {
		return o.BuyerID == buyerID && o.Status == domain.OfferStatusPending
	}, nil)
	return len(offers), err
}

func (s *offerStoreInMemory) CountPendingBySeller(ctx context.Context, sellerID string) (int, error) {
	offers, err := s.collect(ctx, func(o domain.Offer) bool {
		return o.SellerID == sellerID && o.Status == domain.OfferStatusPending
	}, nil)
	return len(offers), err
}

func (s *offerStoreInMemory) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Offer, error) {
	offers, err := s.collect(ctx, func(o domain.Offer) bool {
		return o.Status == domain.OfferStatusPending && o.ExpiresAt.Before(now)
	}, func(a, b domain.Offer) bool {
		if a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ID < b.ID
		}
		return a.ExpiresAt.Before(b.ExpiresAt)
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(offers) > limit {
		offers = offers[:limit]
	}
	return offers, nil
}

// ExpirePending берёт блокировку объявления для каждой записи отдельно,
// поэтому гонка с ручным действием решается в пользу того, кто успел первым.
func (s *offerStoreInMemory) ExpirePending(ctx context.Context, ids []string, now time.Time) ([]domain.Offer, error) {
	expired := make([]domain.Offer, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		s.mu.RLock()
		offer, ok := s.offers[id]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		if updated, ok := s.expireOne(offer.ListingID, id, now); ok {
			expired = append(expired, updated)
		}
	}
	return expired, nil
}

func (s *offerStoreInMemory) expireOne(listingID, id string, now time.Time) (domain.Offer, bool) {
	lock := s.listingLock(listingID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok || offer.Status != domain.OfferStatusPending || !offer.ExpiresAt.Before(now) {
		return domain.Offer{}, false
	}

	offer.Status = domain.OfferStatusExpired
	offer.Version++
	offer.UpdatedAt = now
	s.offers[id] = offer
	s.events[id] = append(s.events[id], domain.OfferEvent{
		ID:         uuid.NewString(),
		OfferID:    id,
		ListingID:  offer.ListingID,
		Type:       domain.OfferEventExpired,
		FromStatus: domain.OfferStatusPending,
		ToStatus:   domain.OfferStatusExpired,
		OccurredAt: now,
	})
	return offer, true
}

func (s *offerStoreInMemory) ListEvents(ctx context.Context, offerID string) ([]domain.OfferEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.OfferEvent(nil), s.events[offerID]...), nil
}

func (s *offerStoreInMemory) page(ctx context.Context, match func(domain.Offer) bool, filter domain.OfferFilter) (domain.OfferPage, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return domain.OfferPage{}, err
	}

	offers, err := s.collect(ctx, func(o domain.Offer) bool {
		if filter.Status != "" && o.Status != filter.Status {
			return false
		}
		return match(o)
	}, byCreatedDesc)
	if err != nil {
		return domain.OfferPage{}, err
	}

	page := domain.OfferPage{Total: len(offers), Items: []domain.Offer{}}
	start := filter.Offset()
	if start >= len(offers) {
		return page, nil
	}
	end := start + filter.Size
	if end > len(offers) {
		end = len(offers)
	}
	page.Items = append(page.Items, offers[start:end]...)
	return page, nil
}

func (s *offerStoreInMemory) collect(ctx context.Context, match func(domain.Offer) bool, less func(a, b domain.Offer) bool) ([]domain.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	result := make([]domain.Offer, 0)
	for _, offer := range s.offers {
		if match(offer) {
			result = append(result, offer)
		}
	}
	s.mu.RUnlock()

	if less != nil {
		sort.Slice(result, func(i, j int) bool { return less(result[i], result[j]) })
	}
	return result, nil
}

func byCreatedAsc(a, b domain.Offer) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func byCreatedDesc(a, b domain.Offer) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// offerTxInMemory копит изменения до коммита.
type offerTxInMemory struct {
	store     *offerStoreInMemory
	listingID string
	staged    map[string]domain.Offer
	readAt    map[string]int64
	inserted  map[string]bool
	events    []domain.OfferEvent
}

func (tx *offerTxInMemory) get(id string) (domain.Offer, bool) {
	if offer, ok := tx.staged[id]; ok {
		return offer, true
	}

	tx.store.mu.RLock()
	offer, ok := tx.store.offers[id]
	tx.store.mu.RUnlock()
	if ok {
		if _, seen := tx.readAt[id]; !seen {
			tx.readAt[id] = offer.Version
		}
	}
	return offer, ok
}

// view возвращает офферы объявления с учётом ещё не закоммиченных изменений.
func (tx *offerTxInMemory) view(listingID string) []domain.Offer {
	tx.store.mu.RLock()
	merged := make(map[string]domain.Offer)
	for id, offer := range tx.store.offers {
		if offer.ListingID == listingID {
			merged[id] = offer
		}
	}
	tx.store.mu.RUnlock()

	for id, offer := range tx.staged {
		if offer.ListingID == listingID {
			merged[id] = offer
		}
	}

	result := make([]domain.Offer, 0, len(merged))
	for _, offer := range merged {
		result = append(result, offer)
	}
	sort.Slice(result, func(i, j int) bool { return byCreatedAsc(result[i], result[j]) })
	return result
}

func (tx *offerTxInMemory) GetForUpdate(id string) (domain.Offer, error) {
	offer, ok := tx.get(id)
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	if offer.ListingID != tx.listingID {
		return domain.Offer{}, fmt.Errorf("offer %s is outside of listing %s unit of work", id, tx.listingID)
	}
	return offer, nil
}

func (tx *offerTxInMemory) LockPendingByListing(listingID string) ([]domain.Offer, error) {
	if listingID != tx.listingID {
		return nil, fmt.Errorf("listing %s is outside of listing %s unit of work", listingID, tx.listingID)
	}

	pending := make([]domain.Offer, 0)
	for _, offer := range tx.view(listingID) {
		if offer.Status != domain.OfferStatusPending {
			continue
		}
		if _, seen := tx.readAt[offer.ID]; !seen && !tx.inserted[offer.ID] {
			tx.readAt[offer.ID] = offer.Version
		}
		pending = append(pending, offer)
	}
	return pending, nil
}

func (tx *offerTxInMemory) HasPending(buyerID, listingID string) (bool, error) {
	for _, offer := range tx.view(listingID) {
		if offer.BuyerID == buyerID && offer.Status == domain.OfferStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (tx *offerTxInMemory) Insert(offer domain.Offer) error {
	if offer.ListingID != tx.listingID {
		return fmt.Errorf("offer %s is outside of listing %s unit of work", offer.ID, tx.listingID)
	}
	if _, exists := tx.get(offer.ID); exists {
		return fmt.Errorf("insert offer %s: %w", offer.ID, domain.ErrOfferVersionConflict)
	}
	if offer.Status == domain.OfferStatusPending {
		pending, err := tx.HasPending(offer.BuyerID, offer.ListingID)
		if err != nil {
			return err
		}
		if pending {
			return domain.ErrDuplicatePendingOffer
		}
	}
	if offer.Version == 0 {
		offer.Version = 1
	}

	tx.staged[offer.ID] = offer
	tx.inserted[offer.ID] = true
	return nil
}

func (tx *offerTxInMemory) Update(offer domain.Offer, expected domain.OfferStatus) (domain.Offer, error) {
	current, ok := tx.get(offer.ID)
	if !ok {
		return domain.Offer{}, domain.ErrOfferNotFound
	}
	if current.Status != expected || current.Version != offer.Version {
		return domain.Offer{}, domain.ErrOfferVersionConflict
	}

	offer.Version++
	tx.staged[offer.ID] = offer
	return offer, nil
}

func (tx *offerTxInMemory) AppendEvent(event domain.OfferEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	tx.events = append(tx.events, event)
	return nil
}

var (
	_ domain.OfferStore = (*offerStoreInMemory)(nil)
	_ domain.OfferTx    = (*offerTxInMemory)(nil)
)
