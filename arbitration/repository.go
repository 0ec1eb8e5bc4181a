package arbitration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrRequestNotFound is returned when no request row exists for the pair.
	ErrRequestNotFound = errors.New("arbitration: request not found")
	// ErrNoArbitrator is returned when no requester has been accepted for the question.
	ErrNoArbitrator = errors.New("arbitration: no accepted requester for question")
)

// Repository is the request ledger. All writes are transaction-scoped and
// only ever issued by the state machine; reads are served from the pool.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LockRequest creates the (question, requester) row on first reference and
// locks it for the remainder of the transaction.
func (r *Repository) LockRequest(ctx context.Context, tx pgx.Tx, questionID, requester string) (Request, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO requests (question_id, requester)
		VALUES ($1, $2)
		ON CONFLICT (question_id, requester) DO NOTHING
	`, questionID, requester); err != nil {
		return Request{}, fmt.Errorf("arbitration: ensure request: %w", err)
	}

	var req Request
	err := tx.QueryRow(ctx, `
		SELECT question_id, requester, status::text, arbitrator_answer, created_at, updated_at
		FROM requests
		WHERE question_id = $1 AND requester = $2
		FOR UPDATE
	`, questionID, requester).
		Scan(&req.QuestionID, &req.Requester, &req.Status, &req.ArbitratorAnswer, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, fmt.Errorf("arbitration: lock request: %w", err)
	}
	return req, nil
}

// SetStatus advances the locked row to the given status.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, questionID, requester string, status Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE requests
		SET status = $1::request_status, updated_at = now()
		WHERE question_id = $2 AND requester = $3
	`, status, questionID, requester)
	if err != nil {
		return fmt.Errorf("arbitration: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// SetAnswer stores the arbitrator's answer and moves the row to ruled.
func (r *Repository) SetAnswer(ctx context.Context, tx pgx.Tx, questionID, requester, answer string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE requests
		SET status = 'ruled', arbitrator_answer = $1, updated_at = now()
		WHERE question_id = $2 AND requester = $3
	`, answer, questionID, requester)
	if err != nil {
		return fmt.Errorf("arbitration: set answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// SetQuestionArbitrator records the accepted requester for the question.
// The slot is written inside the same transaction that moves the request to
// notified, which keeps the two tables from ever disagreeing. A later
// accepted requester (possible only after a full reset of the earlier one)
// overwrites the slot.
func (r *Repository) SetQuestionArbitrator(ctx context.Context, tx pgx.Tx, questionID, requester string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO question_arbitrators (question_id, requester)
		VALUES ($1, $2)
		ON CONFLICT (question_id) DO UPDATE SET requester = EXCLUDED.requester, updated_at = now()
	`, questionID, requester); err != nil {
		return fmt.Errorf("arbitration: set question arbitrator: %w", err)
	}
	return nil
}

// QuestionArbitrator resolves the accepted requester for question-scoped
// operations.
func (r *Repository) QuestionArbitrator(ctx context.Context, tx pgx.Tx, questionID string) (string, error) {
	var requester string
	err := tx.QueryRow(ctx, `SELECT requester FROM question_arbitrators WHERE question_id = $1`, questionID).Scan(&requester)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoArbitrator
		}
		return "", fmt.Errorf("arbitration: resolve arbitrator: %w", err)
	}
	return requester, nil
}

// AppendEvent writes the audit record for a transition in the same
// transaction as the transition itself.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, questionID, requester, eventType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("arbitration: marshal event payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO arbitration_events (question_id, requester, type, payload)
		VALUES ($1, $2, $3, $4)
	`, questionID, requester, eventType, payloadBytes); err != nil {
		return fmt.Errorf("arbitration: insert event: %w", err)
	}
	return nil
}

// GetRequest returns the current ledger row for inspection. A pair that was
// never referenced reports StatusNone.
func (r *Repository) GetRequest(ctx context.Context, questionID, requester string) (Request, error) {
	var req Request
	err := r.pool.QueryRow(ctx, `
		SELECT question_id, requester, status::text, arbitrator_answer, created_at, updated_at
		FROM requests
		WHERE question_id = $1 AND requester = $2
	`, questionID, requester).
		Scan(&req.QuestionID, &req.Requester, &req.Status, &req.ArbitratorAnswer, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{QuestionID: questionID, Requester: requester, Status: StatusNone}, nil
		}
		return Request{}, fmt.Errorf("arbitration: get request: %w", err)
	}
	return req, nil
}

// ListEvents returns the audit trail for a question, oldest first.
func (r *Repository) ListEvents(ctx context.Context, questionID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, question_id, requester, type, payload, created_at
		FROM arbitration_events
		WHERE question_id = $1
		ORDER BY id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("arbitration: list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 8)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.QuestionID, &ev.Requester, &ev.Type, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("arbitration: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arbitration: iterate events: %w", err)
	}
	return out, nil
}
