package domain

import (
	"strings"
	"time"
)

// DefaultIdempotencyTTL применяется, когда хранилищу не передали срок жизни ключа.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus описывает жизненный цикл ключа Idempotency-Key.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что переход выполнен и ответ сохранён.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что запрос завершился ошибкой; ответ тоже сохраняется.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что статус фиксирует итог запроса.
func (s IdempotencyStatus) Terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord хранит результат мутирующего запроса к офферу.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewIdempotencyRecord нормализует ключ и хеш и возвращает запись в статусе processing.
// Нулевой ttlAt заменяется на now + DefaultIdempotencyTTL.
func NewIdempotencyRecord(key, requestHash string, ttlAt, now time.Time) (IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return IdempotencyRecord{}, ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return IdempotencyRecord{}, ErrIdempotencyRequestHashRequired
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(DefaultIdempotencyTTL)
	}
	return IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Completed сообщает, что сохранённый ответ можно отдать повторно.
func (r IdempotencyRecord) Completed() bool {
	return r.Status.Terminal()
}

// Expired сообщает, что срок жизни ключа истёк к моменту now и его можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// ConflictWith классифицирует повторный захват живого ключа.
func (r IdempotencyRecord) ConflictWith(requestHash string) error {
	if r.RequestHash != strings.TrimSpace(requestHash) {
		return ErrIdempotencyHashMismatch
	}
	return ErrIdempotencyKeyAlreadyExists
}

// Complete фиксирует итоговый ответ. Переводить запись обратно в processing нельзя.
func (r *IdempotencyRecord) Complete(status IdempotencyStatus, body []byte, httpStatus int, at time.Time) error {
	if !status.Terminal() {
		return ErrIdempotencyStatusInvalid
	}
	r.Status = status
	r.ResponseBody = append([]byte(nil), body...)
	r.HTTPStatus = httpStatus
	r.UpdatedAt = at
	return nil
}
