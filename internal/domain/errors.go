package domain

import "errors"

// Классы ошибок. Конкретные ошибки ниже оборачивают один из них,
// поэтому транспорт классифицирует их через errors.Is.
var (
	// ErrNotFound: объявление, пользователь или оффер не существует.
	ErrNotFound = errors.New("not found")
	// ErrBusinessRule: нарушено правило переговоров.
	ErrBusinessRule = errors.New("business rule violation")
	// ErrConflict: предусловие перехода (статус, версия) перестало выполняться к моменту записи.
	ErrConflict = errors.New("concurrent modification")
	// ErrValidation: некорректные входные данные запроса.
	ErrValidation = errors.New("validation failed")
)

// classifiedError связывает конкретную ошибку с её классом.
type classifiedError struct {
	kind error
	msg  string
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &classifiedError{kind: kind, msg: msg}
}

var (
	ErrOfferNotFound   = newError(ErrNotFound, "offer not found")
	ErrListingNotFound = newError(ErrNotFound, "listing not found")
	ErrUserNotFound    = newError(ErrNotFound, "user not found")

	// ErrListingInactive: объявление снято с публикации.
	ErrListingInactive = newError(ErrBusinessRule, "listing is not active")
	// ErrSelfOffer: владелец объявления пытается сделать оффер сам себе.
	ErrSelfOffer = newError(ErrBusinessRule, "cannot make an offer on your own listing")
	// ErrQuantityExceedsAvailable: запрошено больше, чем доступно.
	ErrQuantityExceedsAvailable = newError(ErrBusinessRule, "quantity exceeds available quantity")
	// ErrDuplicatePendingOffer: у покупателя уже есть PENDING оффер на это объявление.
	ErrDuplicatePendingOffer = newError(ErrBusinessRule, "a pending offer for this listing already exists")
	ErrNotSeller             = newError(ErrBusinessRule, "only the seller can perform this action")
	ErrNotBuyer              = newError(ErrBusinessRule, "only the buyer can perform this action")
	ErrNotParticipant        = newError(ErrBusinessRule, "only the buyer or the seller can view this offer")
	// ErrOfferNotPending: оффер уже в терминальном статусе.
	ErrOfferNotPending = newError(ErrBusinessRule, "offer is not pending")
	ErrOfferExpired    = newError(ErrBusinessRule, "offer has expired")

	// ErrOfferVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOfferVersionConflict = newError(ErrConflict, "offer version conflict")

	ErrIDRequired       = newError(ErrValidation, "id is required")
	ErrPriceInvalid     = newError(ErrValidation, "price must be greater than zero")
	ErrPricePrecision   = newError(ErrValidation, "price must have at most 10 integer and 2 fractional digits")
	ErrQuantityInvalid  = newError(ErrValidation, "quantity must be greater than zero")
	ErrMessageTooLong   = newError(ErrValidation, "message must be at most 1000 characters")
	ErrReasonTooLong    = newError(ErrValidation, "reason must be at most 500 characters")
	ErrStatusInvalid    = newError(ErrValidation, "unknown offer status")
	ErrPaginationBounds = newError(ErrValidation, "page must be >= 0 and size between 1 and 100")
)

var (
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrOutboxMessageNotFound: сообщение outbox не найдено.
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
	ErrOutboxMessageInvalid  = errors.New("outbox message requires recipient and event type")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyHashMismatch: ключ повторно использован с другим телом запроса.
	ErrIdempotencyHashMismatch     = errors.New("idempotency key reused with a different request")
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	ErrIdempotencyKeyNotFound      = errors.New("idempotency key not found")
	ErrIdempotencyStatusInvalid    = errors.New("idempotency record can only be completed with a terminal status")
)

// IsNotFound проверяет, относится ли ошибка к классу NotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBusinessRule проверяет, относится ли ошибка к нарушению правил переговоров.
func IsBusinessRule(err error) bool { return errors.Is(err, ErrBusinessRule) }

// IsConflict проверяет, является ли ошибка конфликтом конкурентной записи.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation проверяет, относится ли ошибка к валидации входных данных.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
