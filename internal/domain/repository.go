package domain

import (
	"context"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// OfferFilter задаёт фильтр и страницу для списков отправленных/полученных офферов.
type OfferFilter struct {
	// Status пустой означает любой статус.
	Status OfferStatus
	Page   int
	Size   int
}

// Normalize подставляет размер страницы по умолчанию и проверяет границы.
func (f OfferFilter) Normalize() (OfferFilter, error) {
	if f.Size == 0 {
		f.Size = DefaultPageSize
	}
	if f.Page < 0 || f.Size < 1 || f.Size > MaxPageSize {
		return f, ErrPaginationBounds
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, ErrStatusInvalid
	}
	return f, nil
}

// Offset возвращает смещение первой записи страницы.
func (f OfferFilter) Offset() int {
	return f.Page * f.Size
}

// OfferPage: страница офферов, упорядоченных от новых к старым.
type OfferPage struct {
	Items []Offer
	Total int
}

// OfferStore — хранилище офферов с единицей работы, сериализованной по объявлению.
type OfferStore interface {
	// WithinTx выполняет fn в единице работы объявления listingID:
	// блокировка -> чтение -> проверка -> изменение -> коммит -> освобождение.
	// Любая ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, listingID string, fn func(tx OfferTx) error) error

	Get(ctx context.Context, id string) (Offer, error)
	// ListByParent возвращает прямых потомков оффера по возрастанию createdAt.
	ListByParent(ctx context.Context, parentID string) ([]Offer, error)
	ListByBuyer(ctx context.Context, buyerID string, filter OfferFilter) (OfferPage, error)
	ListBySeller(ctx context.Context, sellerID string, filter OfferFilter) (OfferPage, error)
	CountPendingByBuyer(ctx context.Context, buyerID string) (int, error)
	CountPendingBySeller(ctx context.Context, sellerID string) (int, error)
	// ListExpiredPending возвращает до limit PENDING офферов с expiresAt < now.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Offer, error)
	// ExpirePending переводит в EXPIRED только те из ids, что всё ещё PENDING и просрочены на now.
	// Устаревшие записи пропускаются поодиночке, остальные фиксируются.
	ExpirePending(ctx context.Context, ids []string, now time.Time) ([]Offer, error)
	ListEvents(ctx context.Context, offerID string) ([]OfferEvent, error)
}

// OfferTx — операции внутри единицы работы.
type OfferTx interface {
	// GetForUpdate читает оффер под эксклюзивной блокировкой.
	GetForUpdate(id string) (Offer, error)
	// LockPendingByListing блокирует и возвращает все PENDING офферы объявления.
	LockPendingByListing(listingID string) ([]Offer, error)
	// HasPending сообщает, есть ли у покупателя PENDING оффер на объявление.
	HasPending(buyerID, listingID string) (bool, error)
	// Insert сохраняет новый оффер; второй PENDING на (buyer, listing) даёт ErrDuplicatePendingOffer.
	Insert(offer Offer) error
	// Update применяет изменения, если статус и версия в хранилище совпадают с expected и offer.Version.
	// Возвращает оффер с увеличенной версией или ErrOfferVersionConflict.
	Update(offer Offer, expected OfferStatus) (Offer, error)
	AppendEvent(event OfferEvent) error
}
