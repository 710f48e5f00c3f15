package negotiation

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
	"github.com/vladislavdragonenkov/marketplace-offers/internal/metrics"
)

const (
	// DefaultOfferTTL задаёт окно жизни PENDING оффера по умолчанию.
	DefaultOfferTTL        = 48 * time.Hour
	defaultExpireBatchSize = 200
)

const (
	actionCreate  = "create"
	actionCounter = "counter"
	actionAccept  = "accept"
	actionReject  = "reject"
	actionCancel  = "cancel"
	actionExpire  = "expire"
)

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOfferTTL задаёт время жизни нового оффера.
func WithOfferTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithMetrics подключает Prometheus-метрики.
func WithMetrics(m *metrics.NegotiationMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithExpireBatchSize задаёт размер пачки для ExpireOffers.
func WithExpireBatchSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.expireBatchSize = size
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов офферов.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// Engine выполняет переходы автомата состояний офферов.
// Между вызовами состояния не хранит; вся сериализация на стороне OfferStore.
type Engine struct {
	store           domain.OfferStore
	listings        domain.ListingGateway
	users           domain.UserDirectory
	notifier        domain.Notifier
	metrics         *metrics.NegotiationMetrics
	logger          *log.Entry
	now             func() time.Time
	newID           func() string
	ttl             time.Duration
	expireBatchSize int
}

// NewEngine создаёт движок переговоров.
func NewEngine(store domain.OfferStore, listings domain.ListingGateway, users domain.UserDirectory, notifier domain.Notifier, options ...Option) *Engine {
	e := &Engine{
		store:           store,
		listings:        listings,
		users:           users,
		notifier:        notifier,
		logger:          log.WithField("component", "negotiation-engine"),
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
		ttl:             DefaultOfferTTL,
		expireBatchSize: defaultExpireBatchSize,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// CreateOffer создаёт PENDING оффер покупателя и уведомляет продавца.
func (e *Engine) CreateOffer(ctx context.Context, req CreateOfferRequest, buyerID string) (OfferView, error) {
	started := time.Now()
	offer, listing, err := e.createOffer(ctx, req, buyerID)
	e.observe(actionCreate, started, err)
	if err != nil {
		e.logFailure(actionCreate, err, log.Fields{"listing_id": req.ListingID, "actor_id": buyerID})
		return OfferView{}, err
	}

	e.notify(ctx, newOfferNotification(offer, listing.Title))
	return buildView(offer, &listing, e.now()), nil
}

func (e *Engine) createOffer(ctx context.Context, req CreateOfferRequest, buyerID string) (domain.Offer, domain.Listing, error) {
	if err := validateCreate(req, buyerID); err != nil {
		return domain.Offer{}, domain.Listing{}, err
	}

	if _, err := e.users.GetUser(ctx, buyerID); err != nil {
		return domain.Offer{}, domain.Listing{}, err
	}
	listing, err := e.listings.GetListing(ctx, req.ListingID)
	if err != nil {
		return domain.Offer{}, domain.Listing{}, err
	}

	switch {
	case !listing.IsActive:
		return domain.Offer{}, listing, domain.ErrListingInactive
	case listing.OwnerID == buyerID:
		return domain.Offer{}, listing, domain.ErrSelfOffer
	case req.Quantity > listing.AvailableQuantity:
		return domain.Offer{}, listing, domain.ErrQuantityExceedsAvailable
	}

	now := e.now()
	offer := domain.Offer{
		ID:           e.newID(),
		ListingID:    listing.ID,
		BuyerID:      buyerID,
		SellerID:     listing.OwnerID,
		OfferedPrice: req.OfferedPrice.Round(domain.MoneyScale),
		Quantity:     req.Quantity,
		Message:      req.Message,
		Status:       domain.OfferStatusPending,
		ExpiresAt:    now.Add(e.ttl),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = e.store.WithinTx(ctx, listing.ID, func(tx domain.OfferTx) error {
		exists, err := tx.HasPending(buyerID, listing.ID)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicatePendingOffer
		}
		if err := tx.Insert(offer); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(offer, buyerID, domain.OfferEventCreated, "", domain.OfferStatusPending, "", now))
	})
	if err != nil {
		return domain.Offer{}, listing, err
	}
	return offer, listing, nil
}

// CreateCounterOffer переводит родителя в COUNTER_OFFERED и создаёт дочерний PENDING оффер
// в одной единице работы.
func (e *Engine) CreateCounterOffer(ctx context.Context, offerID string, req CounterOfferRequest, sellerID string) (OfferView, error) {
	started := time.Now()

	var child domain.Offer
	err := validateCounter(offerID, req, sellerID)
	if err == nil {
		err = e.retryOnConflict(ctx, actionCounter, func() error {
			var err error
			child, err = e.counterOffer(ctx, offerID, req, sellerID)
			return err
		})
	}
	e.observe(actionCounter, started, err)
	if err != nil {
		e.logFailure(actionCounter, err, log.Fields{"offer_id": offerID, "actor_id": sellerID})
		return OfferView{}, err
	}

	listing, ok := e.lookupListing(ctx, child.ListingID)
	e.notify(ctx, counterOfferNotification(child, listingTitle(listing, ok)))
	return e.viewWith(child, listing, ok), nil
}

func (e *Engine) counterOffer(ctx context.Context, offerID string, req CounterOfferRequest, sellerID string) (domain.Offer, error) {
	current, err := e.store.Get(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}

	var child domain.Offer
	err = e.store.WithinTx(ctx, current.ListingID, func(tx domain.OfferTx) error {
		parent, err := tx.GetForUpdate(offerID)
		if err != nil {
			return err
		}

		now := e.now()
		switch {
		case parent.SellerID != sellerID:
			return domain.ErrNotSeller
		case parent.Status != domain.OfferStatusPending:
			return domain.ErrOfferNotPending
		case parent.IsExpired(now):
			return domain.ErrOfferExpired
		}

		parent.Status = domain.OfferStatusCounterOffered
		parent.UpdatedAt = now
		if _, err := tx.Update(parent, domain.OfferStatusPending); err != nil {
			return err
		}

		child = domain.Offer{
			ID:            e.newID(),
			ListingID:     parent.ListingID,
			BuyerID:       parent.BuyerID,
			SellerID:      parent.SellerID,
			OfferedPrice:  req.CounterPrice.Round(domain.MoneyScale),
			Quantity:      parent.Quantity,
			Message:       req.Message,
			Status:        domain.OfferStatusPending,
			ExpiresAt:     now.Add(e.ttl),
			ParentOfferID: parent.ID,
			Version:       1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Insert(child); err != nil {
			return err
		}

		if err := tx.AppendEvent(newEvent(parent, sellerID, domain.OfferEventCountered,
			domain.OfferStatusPending, domain.OfferStatusCounterOffered, "", now)); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(child, sellerID, domain.OfferEventCounterCreated, "", domain.OfferStatusPending, "", now))
	})
	return child, err
}

// AcceptOffer принимает оффер и отклоняет все остальные PENDING офферы объявления.
// Конфликт не повторяется: повтор мог бы незаметно сменить победителя.
func (e *Engine) AcceptOffer(ctx context.Context, offerID, sellerID string) (OfferView, error) {
	started := time.Now()

	var (
		accepted domain.Offer
		rejected []domain.Offer
		err      = validateActor(offerID, sellerID)
	)
	if err == nil {
		accepted, rejected, err = e.acceptOffer(ctx, offerID, sellerID)
	}
	e.observe(actionAccept, started, err)
	if err != nil {
		e.logFailure(actionAccept, err, log.Fields{"offer_id": offerID, "actor_id": sellerID})
		return OfferView{}, err
	}

	e.metrics.RecordCascadeRejections(len(rejected))
	e.logger.WithFields(log.Fields{
		"offer_id":   accepted.ID,
		"listing_id": accepted.ListingID,
		"cascaded":   len(rejected),
	}).Info("offer accepted")

	listing, ok := e.lookupListing(ctx, accepted.ListingID)
	title := listingTitle(listing, ok)
	e.notify(ctx, acceptedNotification(accepted, title))
	for _, offer := range rejected {
		e.notify(ctx, cascadeRejectedNotification(offer, title))
	}
	return e.viewWith(accepted, listing, ok), nil
}

func (e *Engine) acceptOffer(ctx context.Context, offerID, sellerID string) (domain.Offer, []domain.Offer, error) {
	current, err := e.store.Get(ctx, offerID)
	if err != nil {
		return domain.Offer{}, nil, err
	}

	var (
		accepted domain.Offer
		rejected []domain.Offer
	)
	err = e.store.WithinTx(ctx, current.ListingID, func(tx domain.OfferTx) error {
		// Весь набор PENDING блокируется до принятия решения.
		pending, err := tx.LockPendingByListing(current.ListingID)
		if err != nil {
			return err
		}
		target, err := tx.GetForUpdate(offerID)
		if err != nil {
			return err
		}

		now := e.now()
		switch {
		case target.SellerID != sellerID:
			return domain.ErrNotSeller
		case target.Status != domain.OfferStatusPending:
			return domain.ErrOfferNotPending
		case target.IsExpired(now):
			return domain.ErrOfferExpired
		}

		target.Status = domain.OfferStatusAccepted
		target.UpdatedAt = now
		if accepted, err = tx.Update(target, domain.OfferStatusPending); err != nil {
			return err
		}
		if err := tx.AppendEvent(newEvent(accepted, sellerID, domain.OfferEventAccepted,
			domain.OfferStatusPending, domain.OfferStatusAccepted, "", now)); err != nil {
			return err
		}

		rejected = make([]domain.Offer, 0, len(pending))
		for _, other := range pending {
			if other.ID == target.ID {
				continue
			}
			other.Status = domain.OfferStatusRejected
			other.Reason = domain.ReasonCascade
			other.UpdatedAt = now
			updated, err := tx.Update(other, domain.OfferStatusPending)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(newEvent(updated, sellerID, domain.OfferEventRejected,
				domain.OfferStatusPending, domain.OfferStatusRejected, domain.ReasonCascade, now)); err != nil {
				return err
			}
			rejected = append(rejected, updated)
		}
		return nil
	})
	if err != nil {
		return domain.Offer{}, nil, err
	}
	return accepted, rejected, nil
}

// RejectOffer отклоняет PENDING оффер. Просроченный, но ещё PENDING оффер тоже можно отклонить.
func (e *Engine) RejectOffer(ctx context.Context, offerID string, req RejectOfferRequest, sellerID string) (OfferView, error) {
	started := time.Now()

	var rejected domain.Offer
	err := validateActor(offerID, sellerID)
	if err == nil {
		err = domain.ValidateReason(req.Reason)
	}
	if err == nil {
		err = e.retryOnConflict(ctx, actionReject, func() error {
			var err error
			rejected, err = e.transitionSingle(ctx, offerID, sellerID, actionReject, req.Reason)
			return err
		})
	}
	e.observe(actionReject, started, err)
	if err != nil {
		e.logFailure(actionReject, err, log.Fields{"offer_id": offerID, "actor_id": sellerID})
		return OfferView{}, err
	}

	listing, ok := e.lookupListing(ctx, rejected.ListingID)
	e.notify(ctx, rejectedNotification(rejected, listingTitle(listing, ok)))
	return e.viewWith(rejected, listing, ok), nil
}

// CancelOffer отзывает PENDING оффер покупателем.
func (e *Engine) CancelOffer(ctx context.Context, offerID, buyerID string) (OfferView, error) {
	started := time.Now()

	var cancelled domain.Offer
	err := validateActor(offerID, buyerID)
	if err == nil {
		err = e.retryOnConflict(ctx, actionCancel, func() error {
			var err error
			cancelled, err = e.transitionSingle(ctx, offerID, buyerID, actionCancel, "")
			return err
		})
	}
	e.observe(actionCancel, started, err)
	if err != nil {
		e.logFailure(actionCancel, err, log.Fields{"offer_id": offerID, "actor_id": buyerID})
		return OfferView{}, err
	}

	listing, ok := e.lookupListing(ctx, cancelled.ListingID)
	e.notify(ctx, cancelledNotification(cancelled, listingTitle(listing, ok)))
	return e.viewWith(cancelled, listing, ok), nil
}

// transitionSingle выполняет переход одной записи: reject (продавец) или cancel (покупатель).
func (e *Engine) transitionSingle(ctx context.Context, offerID, actorID, action, reason string) (domain.Offer, error) {
	current, err := e.store.Get(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}

	var result domain.Offer
	err = e.store.WithinTx(ctx, current.ListingID, func(tx domain.OfferTx) error {
		offer, err := tx.GetForUpdate(offerID)
		if err != nil {
			return err
		}

		target := domain.OfferStatusRejected
		eventType := domain.OfferEventRejected
		if action == actionCancel {
			if offer.BuyerID != actorID {
				return domain.ErrNotBuyer
			}
			target = domain.OfferStatusCancelled
			eventType = domain.OfferEventCancelled
		} else if offer.SellerID != actorID {
			return domain.ErrNotSeller
		}
		if offer.Status != domain.OfferStatusPending {
			return domain.ErrOfferNotPending
		}

		now := e.now()
		offer.Status = target
		offer.Reason = reason
		offer.UpdatedAt = now
		if result, err = tx.Update(offer, domain.OfferStatusPending); err != nil {
			return err
		}
		return tx.AppendEvent(newEvent(result, actorID, eventType, domain.OfferStatusPending, target, reason, now))
	})
	return result, err
}

// ExpireOffers переводит просроченные PENDING офферы в EXPIRED пачками.
// Записи, изменённые параллельно, хранилище пропускает поодиночке.
func (e *Engine) ExpireOffers(ctx context.Context) (int, error) {
	started := time.Now()
	now := e.now()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		candidates, err := e.store.ListExpiredPending(ctx, now, e.expireBatchSize)
		if err != nil {
			e.observe(actionExpire, started, err)
			return total, err
		}
		if len(candidates) == 0 {
			break
		}

		ids := make([]string, 0, len(candidates))
		for _, offer := range candidates {
			ids = append(ids, offer.ID)
		}

		expired, err := e.store.ExpirePending(ctx, ids, now)
		for _, offer := range expired {
			e.notify(ctx, expiredNotification(offer))
		}
		total += len(expired)
		if err != nil {
			e.observe(actionExpire, started, err)
			return total, err
		}

		if skipped := len(candidates) - len(expired); skipped > 0 {
			e.logger.WithField("skipped", skipped).Debug("offers changed concurrently, skipped by sweep")
		}
		if len(candidates) < e.expireBatchSize || len(expired) == 0 {
			break
		}
	}

	e.observe(actionExpire, started, nil)
	return total, nil
}

// retryOnConflict повторяет одиночный переход один раз, если запись изменили параллельно.
func (e *Engine) retryOnConflict(ctx context.Context, action string, fn func() error) error {
	err := fn()
	if !domain.IsConflict(err) || ctx.Err() != nil {
		return err
	}

	e.metrics.RecordConflictRetry(action)
	e.logger.WithField("action", action).WithError(err).Debug("retrying transition after concurrent modification")
	return fn()
}

func (e *Engine) observe(action string, started time.Time, err error) {
	result := metrics.ResultOK
	switch {
	case err == nil:
	case domain.IsConflict(err):
		result = metrics.ResultConflict
	case domain.IsBusinessRule(err), domain.IsValidation(err), domain.IsNotFound(err):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultError
	}
	e.metrics.RecordTransition(action, result, time.Since(started))
}

func (e *Engine) logFailure(action string, err error, fields log.Fields) {
	entry := e.logger.WithFields(fields).WithField("action", action).WithError(err)
	switch {
	case domain.IsBusinessRule(err), domain.IsValidation(err), domain.IsNotFound(err):
		entry.Debug("offer transition refused")
	case domain.IsConflict(err):
		entry.Info("offer transition lost a concurrent race")
	default:
		entry.Error("offer transition failed")
	}
}

// notify отправляет команду после коммита; ошибка только логируется.
func (e *Engine) notify(ctx context.Context, cmd domain.NotificationCommand) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), cmd); err != nil {
		e.metrics.RecordNotification(metrics.ResultError)
		e.logger.WithError(err).WithFields(log.Fields{
			"recipient_id": cmd.RecipientUserID,
			"type":         cmd.Type,
		}).Warn("failed to dispatch offer notification")
		return
	}
	e.metrics.RecordNotification(metrics.ResultOK)
}

// lookupListing читает снимок объявления для отображения; отсутствие не ошибка.
func (e *Engine) lookupListing(ctx context.Context, listingID string) (domain.Listing, bool) {
	listing, err := e.listings.GetListing(ctx, listingID)
	if err != nil {
		e.logger.WithError(err).WithField("listing_id", listingID).Warn("listing snapshot unavailable")
		return domain.Listing{}, false
	}
	return listing, true
}

func (e *Engine) viewWith(offer domain.Offer, listing domain.Listing, ok bool) OfferView {
	if !ok {
		return buildView(offer, nil, e.now())
	}
	return buildView(offer, &listing, e.now())
}

func newEvent(offer domain.Offer, actorID string, eventType domain.OfferEventType, from, to domain.OfferStatus, reason string, at time.Time) domain.OfferEvent {
	return domain.OfferEvent{
		ID:         uuid.NewString(),
		OfferID:    offer.ID,
		ListingID:  offer.ListingID,
		ActorID:    actorID,
		Type:       eventType,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		OccurredAt: at,
	}
}

func validateCreate(req CreateOfferRequest, buyerID string) error {
	if err := domain.ValidateID(buyerID); err != nil {
		return err
	}
	if err := domain.ValidateID(req.ListingID); err != nil {
		return err
	}
	if err := domain.ValidatePrice(req.OfferedPrice); err != nil {
		return err
	}
	if err := domain.ValidateQuantity(req.Quantity); err != nil {
		return err
	}
	return domain.ValidateMessage(req.Message)
}

func validateCounter(offerID string, req CounterOfferRequest, sellerID string) error {
	if err := validateActor(offerID, sellerID); err != nil {
		return err
	}
	if err := domain.ValidatePrice(req.CounterPrice); err != nil {
		return err
	}
	return domain.ValidateMessage(req.Message)
}

func validateActor(offerID, actorID string) error {
	if err := domain.ValidateID(offerID); err != nil {
		return err
	}
	return domain.ValidateID(actorID)
}
