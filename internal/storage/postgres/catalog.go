package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// Catalog читает снимки объявлений и пользователей из локальных таблиц
// listings и users, которые наполняет синхронизация каталога.
type Catalog struct {
	db *sql.DB
}

// NewCatalog создаёт PostgreSQL-реализацию ListingGateway и UserDirectory.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{db: store.DB()}
}

// GetListing возвращает объявление или ErrListingNotFound.
func (c *Catalog) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var listing domain.Listing
	err := c.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, image_url, price, available_quantity, is_active
		FROM listings
		WHERE id = $1
	`, listingID).Scan(
		&listing.ID, &listing.OwnerID, &listing.Title, &listing.ImageURL,
		&listing.Price, &listing.AvailableQuantity, &listing.IsActive,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, fmt.Errorf("select listing: %w", err)
	}
	return listing, nil
}

// GetUser возвращает пользователя или ErrUserNotFound.
func (c *Catalog) GetUser(ctx context.Context, userID string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var user domain.User
	err := c.db.QueryRowContext(ctx, `SELECT id, display_name FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// UpsertListing сохраняет снимок объявления.
func (c *Catalog) UpsertListing(ctx context.Context, listing domain.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, owner_id, title, image_url, price, available_quantity, is_active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			title = EXCLUDED.title,
			image_url = EXCLUDED.image_url,
			price = EXCLUDED.price,
			available_quantity = EXCLUDED.available_quantity,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`,
		listing.ID, listing.OwnerID, listing.Title, listing.ImageURL, listing.Price,
		listing.AvailableQuantity, listing.IsActive, now,
	)
	if err != nil {
		return fmt.Errorf("upsert listing: %w", err)
	}
	return nil
}

// UpsertUser сохраняет пользователя.
func (c *Catalog) UpsertUser(ctx context.Context, user domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, created_at) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
	`, user.ID, user.DisplayName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

var (
	_ domain.ListingGateway = (*Catalog)(nil)
	_ domain.UserDirectory  = (*Catalog)(nil)
)
