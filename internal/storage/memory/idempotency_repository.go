package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

// IdempotencyRepository держит ключи Idempotency-Key в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
	clock   func() time.Time
}

// IdempotencyOption настраивает in-memory репозиторий ключей.
type IdempotencyOption func(*IdempotencyRepository)

// WithIdempotencyClock подменяет источник времени.
func WithIdempotencyClock(clock func() time.Time) IdempotencyOption {
	return func(r *IdempotencyRepository) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewIdempotencyRepository создаёт in-memory хранилище ответов по Idempotency-Key.
func NewIdempotencyRepository(options ...IdempotencyOption) *IdempotencyRepository {
	r := &IdempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// CreateProcessing занимает ключ. Живой ключ не перезаписывается, просроченный занимается заново.
func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := r.clock()
	record, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.records[record.Key]; ok && !current.Expired(now) {
		return copyRecord(current), current.ConflictWith(record.RequestHash)
	}

	r.records[record.Key] = record
	return copyRecord(record), nil
}

func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет ключи с истёкшим TTL, начиная с самых старых.
// limit <= 0 снимает ограничение на размер пачки.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.clock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].TTLAt.Before(expired[j].TTLAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err := record.Complete(status, body, httpStatus, r.clock()); err != nil {
		return err
	}
	r.records[key] = record
	return nil
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
