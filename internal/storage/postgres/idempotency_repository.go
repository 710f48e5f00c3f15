package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

const (
	idempotencyColumns = `key, request_hash, response_body, http_status, status, ttl_at, created_at, updated_at`

	// Просроченный, но ещё не удалённый ключ занимается заново; живой ключ остаётся нетронутым
	// и RETURNING не возвращает строк.
	claimIdempotencyKeySQL = `
		INSERT INTO idempotency_keys (` + idempotencyColumns + `)
		VALUES ($1, $2, NULL, NULL, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			request_hash  = EXCLUDED.request_hash,
			response_body = NULL,
			http_status   = NULL,
			status        = EXCLUDED.status,
			ttl_at        = EXCLUDED.ttl_at,
			created_at    = EXCLUDED.created_at,
			updated_at    = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= EXCLUDED.created_at
		RETURNING key`

	completeIdempotencyKeySQL = `
		UPDATE idempotency_keys
		SET response_body = $2, http_status = $3, status = $4, updated_at = $5
		WHERE key = $1`

	deleteExpiredIdempotencyBatchSQL = `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`

	deleteExpiredIdempotencySQL = `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
)

// IdempotencyRepository хранит ключи Idempotency-Key в таблице idempotency_keys.
type IdempotencyRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-хранилище ключей Idempotency-Key офферного API.
func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{
		db:    store.DB(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, r.clock())
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var claimed string
	err = r.db.QueryRowContext(ctx, claimIdempotencyKeySQL,
		record.Key, record.RequestHash, string(record.Status), record.TTLAt, record.CreatedAt,
	).Scan(&claimed)
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	current, err := r.get(ctx, record.Key)
	if err != nil {
		// Ключ удалили между INSERT и SELECT; клиент повторит запрос.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return current, current.ConflictWith(record.RequestHash)
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.get(ctx, key)
}

func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет ключи с истёкшим TTL, начиная с самых старых.
// Строки, заблокированные параллельной очисткой, пропускаются.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query, args := deleteExpiredIdempotencySQL, []any{before}
	if limit > 0 {
		query, args = deleteExpiredIdempotencyBatchSQL, []any{before, limit}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency rows affected: %w", err)
	}
	return int(removed), nil
}

func (r *IdempotencyRepository) get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	record, err := scanIdempotencyRecord(r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}
	return record, nil
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	record := domain.IdempotencyRecord{Key: key}
	if err := record.Complete(status, body, httpStatus, r.clock()); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, completeIdempotencyKeySQL,
		record.Key, record.ResponseBody, record.HTTPStatus, string(record.Status), record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("idempotency rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func scanIdempotencyRecord(row rowScanner) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		body       []byte
		httpStatus sql.NullInt64
	)
	if err := row.Scan(
		&record.Key, &record.RequestHash, &body, &httpStatus, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown idempotency status %q", status)
	}
	record.ResponseBody = append([]byte(nil), body...)
	record.HTTPStatus = int(httpStatus.Int64)
	record.TTLAt = record.TTLAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
