package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/sha3"
)

// ErrNoTarget is returned when a message is posted before the foreign proxy
// has been registered. Unreachable in practice: every outbound message is a
// consequence of a forward call, which itself requires the registration.
var ErrNoTarget = errors.New("bridge: foreign proxy not registered")

// Outbox serializes reverse-channel calls into the outbox table. Posting
// happens inside the caller's transaction, so the message and the state
// transition that produced it commit together or not at all.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// PostAcknowledgement posts the "arbitration acknowledged" call for the
// foreign proxy and returns the message id.
func (o *Outbox) PostAcknowledgement(ctx context.Context, tx pgx.Tx, questionID, requester string) (string, error) {
	return o.post(ctx, tx, OpReceiveArbitrationAcknowledgement, questionID, requester)
}

// PostCancelation posts the "arbitration canceled" call for the foreign
// proxy and returns the message id.
func (o *Outbox) PostCancelation(ctx context.Context, tx pgx.Tx, questionID, requester string) (string, error) {
	return o.post(ctx, tx, OpReceiveArbitrationCancelation, questionID, requester)
}

func (o *Outbox) post(ctx context.Context, tx pgx.Tx, operation, questionID, requester string) (string, error) {
	var target string
	var chainID int64
	err := tx.QueryRow(ctx, `SELECT address, chain_id FROM foreign_proxy`).Scan(&target, &chainID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoTarget
		}
		return "", fmt.Errorf("bridge: resolve target: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"question_id": questionID,
		"requester":   requester,
	})
	if err != nil {
		return "", fmt.Errorf("bridge: marshal payload: %w", err)
	}

	id := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, target, chain_id, operation, payload, hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, target, chainID, operation, payload, messageHash(target, operation, payload)); err != nil {
		return "", fmt.Errorf("bridge: insert message: %w", err)
	}
	return id, nil
}

// messageHash is the Keccak-256 digest the relayer quotes when it replays
// the call on the foreign chain.
func messageHash(target, operation string, payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(target))
	h.Write([]byte(operation))
	h.Write(payload)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
