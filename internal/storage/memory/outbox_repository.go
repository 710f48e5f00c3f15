package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

const defaultOutboxPull = 100

type outboxEntry struct {
	msg      domain.OutboxMessage
	status   domain.OutboxStatus
	attempts int
	seq      uint64
	queuedAt time.Time
}

// OutboxRepository хранит очередь уведомлений в памяти. Pending выдаются в порядке постановки.
type OutboxRepository struct {
	mu      sync.RWMutex
	seq     uint64
	entries map[string]*outboxEntry
	clock   func() time.Time
}

// NewOutboxRepository создаёт in-memory outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue сохраняет сообщение как pending и назначает ID, если его нет.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := msg.Validate(); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.entries[msg.ID] = &outboxEntry{
		msg:      msg,
		status:   domain.OutboxStatusPending,
		seq:      r.seq,
		queuedAt: r.clock(),
	}
	return msg, nil
}

func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPull
	}
	pending := r.Pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if entry.status != domain.OutboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || entry.queuedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = entry.queuedAt
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

// Pending возвращает копии всех pending-сообщений в порядке постановки.
func (r *OutboxRepository) Pending() []domain.OutboxMessage {
	r.mu.RLock()
	entries := make([]*outboxEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.status == domain.OutboxStatusPending {
			entries = append(entries, entry)
		}
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]domain.OutboxMessage, 0, len(entries))
	for _, entry := range entries {
		msg := entry.msg
		msg.Payload = append([]byte(nil), entry.msg.Payload...)
		out = append(out, msg)
	}
	return out
}

// settle закрывает pending-сообщение; закрытое повторно не трогается.
func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok || entry.status != domain.OutboxStatusPending {
		return domain.ErrOutboxMessageNotFound
	}
	entry.status = status
	entry.attempts++
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
