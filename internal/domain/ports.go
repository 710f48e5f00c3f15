package domain

import (
	"context"
	"time"
)

// ListingGateway читает снимок объявления из внешнего каталога.
type ListingGateway interface {
	// GetListing возвращает ErrListingNotFound, если объявления нет.
	GetListing(ctx context.Context, listingID string) (Listing, error)
}

// UserDirectory разрешает идентификаторы пользователей.
type UserDirectory interface {
	// GetUser возвращает ErrUserNotFound, если пользователя нет.
	GetUser(ctx context.Context, userID string) (User, error)
}

// Notifier принимает команды уведомлений. Доставка best-effort:
// ошибка логируется вызывающим и не откатывает переход.
type Notifier interface {
	Notify(ctx context.Context, cmd NotificationCommand) error
}

// OutboxPublisher публикует события, накопленные в outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}
