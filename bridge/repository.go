package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrMessageNotFound = errors.New("bridge: message not found")
	ErrAlreadyRelayed  = errors.New("bridge: message already relayed")
)

// Repository is the relayer-facing side of the outbox: pending pickup and
// relay confirmation. Messages are only ever inserted by the Outbox.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPending returns unrelayed messages, oldest first, and counts the
// pickup as an attempt.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM outbox WHERE status = 'pending' ORDER BY created_at LIMIT $1
		)
		RETURNING id, target, chain_id, operation, payload, hash, status::text, attempts, created_at, relayed_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("bridge: list pending: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Target, &m.ChainID, &m.Operation, &m.Payload, &m.Hash, &m.Status, &m.Attempts, &m.CreatedAt, &m.RelayedAt); err != nil {
			return nil, fmt.Errorf("bridge: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bridge: iterate messages: %w", err)
	}
	return out, nil
}

// MarkRelayed records the relayer's confirmation that the message was
// replayed on the foreign chain.
func (r *Repository) MarkRelayed(ctx context.Context, id string) (Message, error) {
	const query = `
		UPDATE outbox
		SET status = 'relayed', relayed_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, target, chain_id, operation, payload, hash, status::text, attempts, created_at, relayed_at
	`

	var m Message
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&m.ID, &m.Target, &m.ChainID, &m.Operation, &m.Payload, &m.Hash, &m.Status, &m.Attempts, &m.CreatedAt, &m.RelayedAt)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("bridge: mark relayed: %w", err)
	}

	var status MessageStatus
	if err := r.pool.QueryRow(ctx, `SELECT status::text FROM outbox WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, fmt.Errorf("bridge: mark relayed fetch: %w", err)
	}
	if status == MessageStatusRelayed {
		return Message{}, ErrAlreadyRelayed
	}
	return Message{}, ErrMessageNotFound
}
