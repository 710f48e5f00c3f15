package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

const (
	pendingUniqueIndex = "ux_offers_pending_buyer_listing"

	offerColumns = `id, listing_id, buyer_id, seller_id, offered_price, quantity, message,
		status, expires_at, parent_offer_id, reason, version, created_at, updated_at`
)

type offerStore struct {
	db *sql.DB
}

// NewOfferStore создаёт PostgreSQL-реализацию OfferStore.
// Единица работы сериализуется транзакционной advisory-блокировкой объявления.
func NewOfferStore(store *Store) domain.OfferStore {
	return &offerStore{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (domain.Offer, error) {
	var (
		offer  domain.Offer
		status string
		parent sql.NullString
	)
	if err := row.Scan(
		&offer.ID, &offer.ListingID, &offer.BuyerID, &offer.SellerID, &offer.OfferedPrice,
		&offer.Quantity, &offer.Message, &status, &offer.ExpiresAt, &parent, &offer.Reason,
		&offer.Version, &offer.CreatedAt, &offer.UpdatedAt,
	); err != nil {
		return domain.Offer{}, err
	}
	offer.Status = domain.OfferStatus(status)
	offer.ParentOfferID = parent.String
	offer.ExpiresAt = offer.ExpiresAt.UTC()
	offer.CreatedAt = offer.CreatedAt.UTC()
	offer.UpdatedAt = offer.UpdatedAt.UTC()
	return offer, nil
}

func collectOffers(rows *sql.Rows) ([]domain.Offer, error) {
	defer rows.Close()

	result := make([]domain.Offer, 0)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		result = append(result, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *offerStore) WithinTx(ctx context.Context, listingID string, fn func(tx domain.OfferTx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, listingID); err != nil {
		return fmt.Errorf("lock listing %s: %w", listingID, err)
	}

	if err = fn(&offerTx{ctx: ctx, tx: tx, listingID: listingID}); err != nil {
		if lockConflict(err) {
			return fmt.Errorf("listing %s: %w", listingID, domain.ErrOfferVersionConflict)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		if name, ok := uniqueViolation(err); ok && name == pendingUniqueIndex {
			return domain.ErrDuplicatePendingOffer
		}
		if lockConflict(err) {
			return fmt.Errorf("commit listing %s: %w", listingID, domain.ErrOfferVersionConflict)
		}
		return fmt.Errorf("commit offer tx: %w", err)
	}
	return nil
}

func (s *offerStore) Get(ctx context.Context, id string) (domain.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	offer, err := scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Offer{}, domain.ErrOfferNotFound
		}
		return domain.Offer{}, fmt.Errorf("select offer: %w", err)
	}
	return offer, nil
}

func (s *offerStore) ListByParent(ctx context.Context, parentID string) ([]domain.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE parent_offer_id = $1
		ORDER BY created_at, id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("select offers by parent: %w", err)
	}
	return collectOffers(rows)
}

func (s *offerStore) ListByBuyer(ctx context.Context, buyerID string, filter domain.OfferFilter) (domain.OfferPage, error) {
	return s.page(ctx, "buyer_id", buyerID, filter)
}

func (s *offerStore) ListBySeller(ctx context.Context, sellerID string, filter domain.OfferFilter) (domain.OfferPage, error) {
	return s.page(ctx, "seller_id", sellerID, filter)
}

// page строит страницу по колонке участника; column выбирается только внутри пакета.
func (s *offerStore) page(ctx context.Context, column, userID string, filter domain.OfferFilter) (domain.OfferPage, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return domain.OfferPage{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	where := ` WHERE ` + column + ` = $1 AND ($2 = '' OR status = $2)`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers`+where, userID, string(filter.Status)).Scan(&total); err != nil {
		return domain.OfferPage{}, fmt.Errorf("count offers by %s: %w", column, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userID, string(filter.Status), filter.Size, filter.Offset())
	if err != nil {
		return domain.OfferPage{}, fmt.Errorf("select offers by %s: %w", column, err)
	}
	items, err := collectOffers(rows)
	if err != nil {
		return domain.OfferPage{}, err
	}
	return domain.OfferPage{Items: items, Total: total}, nil
}

func (s *offerStore) CountPendingByBuyer(ctx context.Context, buyerID string) (int, error) {
	return s.countPending(ctx, "buyer_id", buyerID)
}

func (s *offerStore) CountPendingBySeller(ctx context.Context, sellerID string) (int, error) {
	return s.countPending(ctx, "seller_id", sellerID)
}

func (s *offerStore) countPending(ctx context.Context, column, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offers WHERE `+column+` = $1 AND status = 'PENDING'`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending offers by %s: %w", column, err)
	}
	return count, nil
}

func (s *offerStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Offer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE status = 'PENDING' AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired pending offers: %w", err)
	}
	return collectOffers(rows)
}

// ExpirePending сначала забирает строки через FOR UPDATE SKIP LOCKED: оффер, который
// держит транзакция объявления, пропускается до следующего прохода, и sweep никогда
// не ждёт чужую блокировку. Условие перепроверяется под блокировкой, поэтому строка,
// изменённая параллельно, просто не попадает в результат.
func (s *offerStore) ExpirePending(ctx context.Context, ids []string, now time.Time) (expired []domain.Offer, err error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expire tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	locked, err := lockExpirable(ctx, tx, ids, now)
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, tx.Commit()
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE offers
		SET status = 'EXPIRED', version = version + 1, updated_at = $2
		WHERE id = ANY($1)
		RETURNING `+offerColumns, locked, now)
	if err != nil {
		if lockConflict(err) {
			return nil, fmt.Errorf("expire pending offers: %w", domain.ErrOfferVersionConflict)
		}
		return nil, fmt.Errorf("expire pending offers: %w", err)
	}
	if expired, err = collectOffers(rows); err != nil {
		return nil, err
	}

	for _, offer := range expired {
		if err = insertEvent(ctx, tx, domain.OfferEvent{
			ID:         uuid.NewString(),
			OfferID:    offer.ID,
			ListingID:  offer.ListingID,
			Type:       domain.OfferEventExpired,
			FromStatus: domain.OfferStatusPending,
			ToStatus:   domain.OfferStatusExpired,
			OccurredAt: now,
		}); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expire tx: %w", err)
	}
	return expired, nil
}

// lockExpirable блокирует в порядке id те из ids, что всё ещё PENDING и просрочены.
func lockExpirable(ctx context.Context, tx *sql.Tx, ids []string, now time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id
		FROM offers
		WHERE id = ANY($1) AND status = 'PENDING' AND expires_at < $2
		ORDER BY id
		FOR UPDATE SKIP LOCKED
	`, ids, now)
	if err != nil {
		return nil, fmt.Errorf("lock expirable offers: %w", err)
	}
	defer rows.Close()

	locked := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expirable offer: %w", err)
		}
		locked = append(locked, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expirable offers: %w", err)
	}
	return locked, nil
}

func (s *offerStore) ListEvents(ctx context.Context, offerID string) ([]domain.OfferEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, offer_id, listing_id, actor_id, event_type, from_status, to_status, reason, occurred_at
		FROM offer_events
		WHERE offer_id = $1
		ORDER BY occurred_at, id
	`, offerID)
	if err != nil {
		return nil, fmt.Errorf("select offer events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.OfferEvent, 0)
	for rows.Next() {
		var (
			event          domain.OfferEvent
			eventType      string
			fromStatus, to string
		)
		if err := rows.Scan(&event.ID, &event.OfferID, &event.ListingID, &event.ActorID,
			&eventType, &fromStatus, &to, &event.Reason, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan offer event: %w", err)
		}
		event.Type = domain.OfferEventType(eventType)
		event.FromStatus = domain.OfferStatus(fromStatus)
		event.ToStatus = domain.OfferStatus(to)
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer events: %w", err)
	}
	return events, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event domain.OfferEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO offer_events (
			id, offer_id, listing_id, actor_id, event_type, from_status, to_status, reason, occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		event.ID, event.OfferID, event.ListingID, event.ActorID, string(event.Type),
		string(event.FromStatus), string(event.ToStatus), event.Reason, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert offer event: %w", err)
	}
	return nil
}

// offerTx выполняет операции внутри транзакции объявления.
type offerTx struct {
	ctx       context.Context
	tx        *sql.Tx
	listingID string
}

func (t *offerTx) GetForUpdate(id string) (domain.Offer, error) {
	offer, err := scanOffer(t.tx.QueryRowContext(t.ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Offer{}, domain.ErrOfferNotFound
		}
		return domain.Offer{}, fmt.Errorf("select offer for update: %w", err)
	}
	if offer.ListingID != t.listingID {
		return domain.Offer{}, fmt.Errorf("offer %s is outside of listing %s unit of work", id, t.listingID)
	}
	return offer, nil
}

func (t *offerTx) LockPendingByListing(listingID string) ([]domain.Offer, error) {
	if listingID != t.listingID {
		return nil, fmt.Errorf("listing %s is outside of listing %s unit of work", listingID, t.listingID)
	}
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id = $1 AND status = 'PENDING'
		ORDER BY created_at, id
		FOR UPDATE
	`, listingID)
	if err != nil {
		return nil, fmt.Errorf("lock pending offers: %w", err)
	}
	return collectOffers(rows)
}

func (t *offerTx) HasPending(buyerID, listingID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT EXISTS (
			SELECT 1 FROM offers
			WHERE buyer_id = $1 AND listing_id = $2 AND status = 'PENDING'
		)
	`, buyerID, listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending offer: %w", err)
	}
	return exists, nil
}

func (t *offerTx) Insert(offer domain.Offer) error {
	if offer.ListingID != t.listingID {
		return fmt.Errorf("offer %s is outside of listing %s unit of work", offer.ID, t.listingID)
	}
	if offer.Version == 0 {
		offer.Version = 1
	}

	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		offer.ID, offer.ListingID, offer.BuyerID, offer.SellerID, offer.OfferedPrice,
		offer.Quantity, offer.Message, string(offer.Status), offer.ExpiresAt,
		nullString(offer.ParentOfferID), offer.Reason, offer.Version, offer.CreatedAt, offer.UpdatedAt,
	)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			if name == pendingUniqueIndex {
				return domain.ErrDuplicatePendingOffer
			}
			return fmt.Errorf("insert offer %s: %w", offer.ID, domain.ErrOfferVersionConflict)
		}
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

// Update применяет изменения, только если статус и версия не менялись с момента чтения.
func (t *offerTx) Update(offer domain.Offer, expected domain.OfferStatus) (domain.Offer, error) {
	var version int64
	err := t.tx.QueryRowContext(t.ctx, `
		UPDATE offers
		SET status = $4, reason = $5, message = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING version
	`,
		offer.ID, string(expected), offer.Version,
		string(offer.Status), offer.Reason, offer.Message, offer.UpdatedAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Offer{}, domain.ErrOfferVersionConflict
		}
		if name, ok := uniqueViolation(err); ok && name == pendingUniqueIndex {
			return domain.Offer{}, domain.ErrDuplicatePendingOffer
		}
		if lockConflict(err) {
			return domain.Offer{}, fmt.Errorf("update offer %s: %w", offer.ID, domain.ErrOfferVersionConflict)
		}
		return domain.Offer{}, fmt.Errorf("update offer: %w", err)
	}

	offer.Version = version
	return offer, nil
}

func (t *offerTx) AppendEvent(event domain.OfferEvent) error {
	return insertEvent(t.ctx, t.tx, event)
}

var (
	_ domain.OfferStore = (*offerStore)(nil)
	_ domain.OfferTx    = (*offerTx)(nil)
)
