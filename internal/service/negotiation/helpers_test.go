package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/storage/memory"
)

const (
	listingID = "listing-1"
	sellerID  = "seller-1"
	buyerA    = "buyer-a"
	buyerB    = "buyer-b"
	stranger  = "stranger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	commands []domain.NotificationCommand
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, cmd domain.NotificationCommand) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.commands = append(n.commands, cmd)
	return nil
}

func (n *recordingNotifier) byType(t domain.NotificationType) []domain.NotificationCommand {
	n.mu.Lock()
	defer n.mu.Unlock()
	var result []domain.NotificationCommand
	for _, cmd := range n.commands {
		if cmd.Type == t {
			result = append(result, cmd)
		}
	}
	return result
}

type fixture struct {
	engine   *Engine
	store    domain.OfferStore
	catalog  *memory.ListingCatalog
	notifier *recordingNotifier
	clock    *fakeClock
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	wrapStore func(domain.OfferStore) domain.OfferStore
}

func withStoreWrapper(wrap func(domain.OfferStore) domain.OfferStore) fixtureOption {
	return func(c *fixtureConfig) { c.wrapStore = wrap }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	var store domain.OfferStore = memory.NewOfferStore()
	if cfg.wrapStore != nil {
		store = cfg.wrapStore(store)
	}

	catalog := memory.NewListingCatalog(domain.Listing{
		ID:                listingID,
		OwnerID:           sellerID,
		Title:             "Vintage armchair",
		Price:             decimal.RequireFromString("150.50"),
		AvailableQuantity: 10,
		IsActive:          true,
	})
	users := memory.NewUserDirectory(
		domain.User{ID: sellerID, DisplayName: "Seller"},
		domain.User{ID: buyerA, DisplayName: "Buyer A"},
		domain.User{ID: buyerB, DisplayName: "Buyer B"},
		domain.User{ID: stranger, DisplayName: "Stranger"},
	)

	clock := newFakeClock()
	notifier := &recordingNotifier{}
	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	engine := NewEngine(store, catalog, users, notifier,
		WithClock(clock.Now),
		WithLogger(log.NewEntry(logger)),
		WithMetrics(metrics.NewNegotiationMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	return &fixture{engine: engine, store: store, catalog: catalog, notifier: notifier, clock: clock}
}

func (f *fixture) createOffer(t *testing.T, buyerID, price string, quantity int) OfferView {
	t.Helper()
	view, err := f.engine.CreateOffer(context.Background(), CreateOfferRequest{
		ListingID:    listingID,
		OfferedPrice: decimal.RequireFromString(price),
		Quantity:     quantity,
		Message:      "would you take this?",
	}, buyerID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	return view
}

func (f *fixture) status(t *testing.T, offerID string) domain.OfferStatus {
	t.Helper()
	offer, err := f.store.Get(context.Background(), offerID)
	require.NoError(t, err)
	return offer.Status
}

// conflictingStore отдаёт ErrOfferVersionConflict на первых failures вызовах WithinTx.
type conflictingStore struct {
	domain.OfferStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictingStore) WithinTx(ctx context.Context, listingID string, fn func(domain.OfferTx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return domain.ErrOfferVersionConflict
	}
	return s.OfferStore.WithinTx(ctx, listingID, fn)
}

var errNotifierDown = errors.New("notifier down")
