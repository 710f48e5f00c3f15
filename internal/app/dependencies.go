package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/storage/postgres"
)

// runtimeDependencies собирает хранилища выбранного драйвера.
type runtimeDependencies struct {
	offers          domain.OfferStore
	listings        domain.ListingGateway
	users           domain.UserDirectory
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	ping            func(ctx context.Context) error
	close           func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory:
		return initMemoryDependencies(cfg, logger), nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
}

func initMemoryDependencies(cfg Config, logger *log.Entry) runtimeDependencies {
	catalog := memory.NewListingCatalog()
	users := memory.NewUserDirectory()
	if cfg.SeedDemoData {
		seedDemoCatalog(catalog, users)
		logger.Info("in-memory catalog seeded with demo listings")
	}

	logger.Info("using in-memory storage")
	return runtimeDependencies{
		offers:          memory.NewOfferStore(),
		listings:        catalog,
		users:           users,
		outboxRepo:      memory.NewOutboxRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		ping:            func(context.Context) error { return nil },
		close:           func() error { return nil },
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return runtimeDependencies{}, fmt.Errorf("postgres dsn is required for storage driver %q", StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return runtimeDependencies{}, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	catalog := postgres.NewCatalog(store)
	logger.Info("using postgres storage")
	return runtimeDependencies{
		offers:          postgres.NewOfferStore(store),
		listings:        catalog,
		users:           catalog,
		outboxRepo:      postgres.NewOutboxRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		ping:            store.Ping,
		close:           store.Close,
	}, nil
}

// seedDemoCatalog заполняет каталог для локального запуска без внешнего сервиса объявлений.
func seedDemoCatalog(catalog *memory.ListingCatalog, users *memory.UserDirectory) {
	users.Put(domain.User{ID: "seller-1", DisplayName: "Vintage Corner"})
	users.Put(domain.User{ID: "buyer-1", DisplayName: "Alice"})
	users.Put(domain.User{ID: "buyer-2", DisplayName: "Bob"})

	catalog.Put(domain.Listing{
		ID:                "listing-1",
		OwnerID:           "seller-1",
		Title:             "Vintage armchair",
		Price:             decimal.RequireFromString("150.00"),
		AvailableQuantity: 3,
		IsActive:          true,
	})
	catalog.Put(domain.Listing{
		ID:                "listing-2",
		OwnerID:           "seller-1",
		Title:             "Oak coffee table",
		Price:             decimal.RequireFromString("89.90"),
		AvailableQuantity: 1,
		IsActive:          true,
	})
}
