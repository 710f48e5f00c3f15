package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// ListingCatalog: in-memory снимок каталога объявлений для локального запуска и тестов.
type ListingCatalog struct {
	mu       sync.RWMutex
	listings map[string]domain.Listing
}

// NewListingCatalog создаёт каталог с начальным набором объявлений.
func NewListingCatalog(listings ...domain.Listing) *ListingCatalog {
	c := &ListingCatalog{listings: make(map[string]domain.Listing, len(listings))}
	for _, l := range listings {
		c.listings[l.ID] = l
	}
	return c
}

// Put добавляет или заменяет объявление.
func (c *ListingCatalog) Put(listing domain.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[listing.ID] = listing
}

func (c *ListingCatalog) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return domain.Listing{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	listing, ok := c.listings[listingID]
	if !ok {
		return domain.Listing{}, domain.ErrListingNotFound
	}
	return listing, nil
}

// UserDirectory хранит справочник пользователей в памяти.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserDirectory создаёт справочник с начальным набором пользователей.
func NewUserDirectory(users ...domain.User) *UserDirectory {
	d := &UserDirectory{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put добавляет или заменяет пользователя.
func (d *UserDirectory) Put(user domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
}

func (d *UserDirectory) GetUser(ctx context.Context, userID string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

var (
	_ domain.ListingGateway = (*ListingCatalog)(nil)
	_ domain.UserDirectory  = (*UserDirectory)(nil)
)
