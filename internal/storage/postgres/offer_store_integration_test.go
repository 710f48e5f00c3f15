package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

func pendingOffer(id, buyerID string, createdAt time.Time) domain.Offer {
	return domain.Offer{
		ID:           id,
		ListingID:    "listing-pg",
		BuyerID:      buyerID,
		SellerID:     "seller-pg",
		OfferedPrice: decimal.RequireFromString("120.00"),
		Quantity:     2,
		Status:       domain.OfferStatusPending,
		ExpiresAt:    createdAt.Add(48 * time.Hour),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func insertOffers(t *testing.T, store domain.OfferStore, offers ...domain.Offer) {
	t.Helper()

	err := store.WithinTx(context.Background(), "listing-pg", func(tx domain.OfferTx) error {
		for _, offer := range offers {
			if err := tx.Insert(offer); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestOfferStore_PostgresInsertAndGet(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	now := time.Now().UTC().Truncate(time.Second)

	insertOffers(t, store, pendingOffer("offer-1", "buyer-1", now))

	got, err := store.Get(context.Background(), "offer-1")
	require.NoError(t, err)
	require.Equal(t, domain.OfferStatusPending, got.Status)
	require.True(t, got.OfferedPrice.Equal(decimal.RequireFromString("120")))
	require.Equal(t, int64(1), got.Version)
	require.Empty(t, got.ParentOfferID)

	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
}

func TestOfferStore_PostgresDuplicatePendingRejectedByIndex(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	now := time.Now().UTC()

	insertOffers(t, store, pendingOffer("offer-1", "buyer-1", now))

	err := store.WithinTx(context.Background(), "listing-pg", func(tx domain.OfferTx) error {
		return tx.Insert(pendingOffer("offer-2", "buyer-1", now))
	})
	require.ErrorIs(t, err, domain.ErrDuplicatePendingOffer)

	_, err = store.Get(context.Background(), "offer-2")
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
}

func TestOfferStore_PostgresUpdateIsCompareAndSwap(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	now := time.Now().UTC()
	insertOffers(t, store, pendingOffer("offer-1", "buyer-1", now))

	var stale domain.Offer
	err := store.WithinTx(context.Background(), "listing-pg", func(tx domain.OfferTx) error {
		current, err := tx.GetForUpdate("offer-1")
		if err != nil {
			return err
		}
		stale = current

		current.Status = domain.OfferStatusAccepted
		current.UpdatedAt = now.Add(time.Minute)
		updated, err := tx.Update(current, domain.OfferStatusPending)
		if err != nil {
			return err
		}
		require.Equal(t, int64(2), updated.Version)
		return nil
	})
	require.NoError(t, err)

	err = store.WithinTx(context.Background(), "listing-pg", func(tx domain.OfferTx) error {
		stale.Status = domain.OfferStatusRejected
		_, err := tx.Update(stale, domain.OfferStatusPending)
		return err
	})
	require.ErrorIs(t, err, domain.ErrOfferVersionConflict)

	got, err := store.Get(context.Background(), "offer-1")
	require.NoError(t, err)
	require.Equal(t, domain.OfferStatusAccepted, got.Status)
}

func TestOfferStore_PostgresRollbackOnCallbackError(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	boom := errors.New("boom")

	err := store.WithinTx(context.Background(), "listing-pg", func(tx domain.OfferTx) error {
		if err := tx.Insert(pendingOffer("offer-1", "buyer-1", time.Now().UTC())); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Get(context.Background(), "offer-1")
	require.ErrorIs(t, err, domain.ErrOfferNotFound)
}

func TestOfferStore_PostgresLockPendingAndChildren(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	now := time.Now().UTC()

	root := pendingOffer("offer-root", "buyer-1", now)
	root.Status = domain.OfferStatusCounterOffered
	child := pendingOffer("offer-child", "buyer-1", now.Add(time.Minute))
	child.ParentOfferID = root.ID
	other := pendingOffer("offer-other", "buyer-2", now.Add(2*time.Minute))
	insertOffers(t, store, root, child, other)

	err := store.WithinTx(context.Background(), "listing-pg", func(tx domain.OfferTx) error {
		pending, err := tx.LockPendingByListing("listing-pg")
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, "offer-child", pending[0].ID)

		has, err := tx.HasPending("buyer-2", "listing-pg")
		require.NoError(t, err)
		require.True(t, has)
		return nil
	})
	require.NoError(t, err)

	children, err := store.ListByParent(context.Background(), root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, root.ID, children[0].ParentOfferID)
}

func TestOfferStore_PostgresPagingAndCounts(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	now := time.Now().UTC().Truncate(time.Second)

	first := pendingOffer("offer-1", "buyer-1", now)
	second := pendingOffer("offer-2", "buyer-2", now.Add(time.Minute))
	third := pendingOffer("offer-3", "buyer-3", now.Add(2*time.Minute))
	third.Status = domain.OfferStatusRejected
	insertOffers(t, store, first, second, third)

	page, err := store.ListBySeller(context.Background(), "seller-pg", domain.OfferFilter{Page: 0, Size: 2})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	require.Equal(t, "offer-3", page.Items[0].ID)
	require.Equal(t, "offer-2", page.Items[1].ID)

	page, err = store.ListBySeller(context.Background(), "seller-pg", domain.OfferFilter{
		Status: domain.OfferStatusPending, Page: 0, Size: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)

	page, err = store.ListByBuyer(context.Background(), "buyer-1", domain.OfferFilter{Page: 0, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	count, err := store.CountPendingBySeller(context.Background(), "seller-pg")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = store.CountPendingByBuyer(context.Background(), "buyer-3")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestOfferStore_PostgresExpirePendingSkipsChangedRows(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	created := time.Now().UTC().Add(-72 * time.Hour)

	stale := pendingOffer("offer-stale", "buyer-1", created)
	fresh := pendingOffer("offer-fresh", "buyer-2", time.Now().UTC())
	rejected := pendingOffer("offer-rejected", "buyer-3", created)
	rejected.Status = domain.OfferStatusRejected
	insertOffers(t, store, stale, fresh, rejected)

	now := time.Now().UTC()
	candidates, err := store.ListExpiredPending(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "offer-stale", candidates[0].ID)

	expired, err := store.ExpirePending(context.Background(), []string{"offer-stale", "offer-fresh", "offer-rejected"}, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, domain.OfferStatusExpired, expired[0].Status)
	require.Equal(t, int64(2), expired[0].Version)

	again, err := store.ExpirePending(context.Background(), []string{"offer-stale"}, now)
	require.NoError(t, err)
	require.Empty(t, again)

	events, err := store.ListEvents(context.Background(), "offer-stale")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.OfferEventExpired, events[0].Type)
	require.Equal(t, domain.OfferStatusPending, events[0].FromStatus)
}

func TestOfferStore_PostgresGetForUpdateOutsideListing(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	insertOffers(t, store, pendingOffer("offer-1", "buyer-1", time.Now().UTC()))

	err := store.WithinTx(context.Background(), "listing-other", func(tx domain.OfferTx) error {
		_, err := tx.GetForUpdate("offer-1")
		return err
	})
	require.Error(t, err)
}

func TestOfferStore_PostgresExpirePendingSkipsLockedRows(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))
	ctx := context.Background()
	created := time.Now().UTC().Add(-72 * time.Hour)
	insertOffers(t, store,
		pendingOffer("offer-a", "buyer-1", created),
		pendingOffer("offer-b", "buyer-2", created.Add(time.Second)),
	)
	now := time.Now().UTC()

	err := store.WithinTx(ctx, "listing-pg", func(tx domain.OfferTx) error {
		locked, err := tx.LockPendingByListing("listing-pg")
		require.NoError(t, err)
		require.Len(t, locked, 2)

		// Sweep на другом соединении не ждёт строки, удержанные транзакцией объявления.
		expired, err := store.ExpirePending(ctx, []string{"offer-b", "offer-a"}, now)
		require.NoError(t, err)
		require.Empty(t, expired)
		return nil
	})
	require.NoError(t, err)

	expired, err := store.ExpirePending(ctx, []string{"offer-b", "offer-a"}, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
}

func TestOfferStore_PostgresLockAbortIsConflict(t *testing.T) {
	store := NewOfferStore(migratedTestStore(t))

	err := store.WithinTx(context.Background(), "listing-pg", func(domain.OfferTx) error {
		return fmt.Errorf("lock pending offers: %w", &pgconn.PgError{Code: pgDeadlockDetected})
	})
	require.ErrorIs(t, err, domain.ErrOfferVersionConflict)
	require.True(t, domain.IsConflict(err))
}
