package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace-offers/internal/domain"
)

const (
	defaultOutboxPull = 100

	insertOutboxSQL = `
		INSERT INTO outbox_messages
			(id, aggregate_type, aggregate_id, event_type, payload, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`

	pendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`

	outboxBacklogSQL = `
		SELECT count(*), min(created_at)
		FROM outbox_messages
		WHERE status = $1`

	// Закрывается только pending-сообщение: повторная отметка не меняет строку.
	settleOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4`
)

// OutboxRepository хранит уведомления в таблице outbox_messages.
type OutboxRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию очереди уведомлений.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{
		db:    store.DB(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := msg.Validate(); err != nil {
		return domain.OutboxMessage{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		string(domain.OutboxStatusPending), r.clock(),
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// PullPending возвращает до limit самых старых недоставленных сообщений.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxPull
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, pendingOutboxSQL, string(domain.OutboxStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox: %w", err)
	}
	defer rows.Close()

	batch := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending outbox: %w", err)
	}
	return batch, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, outboxBacklogSQL, string(domain.OutboxStatusPending)).
		Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox backlog: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, settleOutboxSQL,
		id, string(status), r.clock(), string(domain.OutboxStatusPending))
	if err != nil {
		return fmt.Errorf("settle outbox %s as %s: %w", id, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle outbox %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("settle outbox %s as %s: %w", id, status, domain.ErrOutboxMessageNotFound)
	}
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
