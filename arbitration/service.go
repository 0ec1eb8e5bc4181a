package arbitration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrInvalidStatus signals that an operation's required source status does
// not match the request's actual status. The caller may retry once the true
// precondition holds; nothing was changed.
var ErrInvalidStatus = errors.New("arbitration: invalid request status")

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger defines the request-ledger access required by the state machine.
type Ledger interface {
	LockRequest(ctx context.Context, tx pgx.Tx, questionID, requester string) (Request, error)
	SetStatus(ctx context.Context, tx pgx.Tx, questionID, requester string, status Status) error
	SetAnswer(ctx context.Context, tx pgx.Tx, questionID, requester, answer string) error
	SetQuestionArbitrator(ctx context.Context, tx pgx.Tx, questionID, requester string) error
	QuestionArbitrator(ctx context.Context, tx pgx.Tx, questionID string) (string, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, questionID, requester, eventType string, payload map[string]any) error
}

// Messenger posts reverse-channel messages for the external relayer. Posting
// shares the enclosing transaction, so a failed post aborts the whole
// operation; delivery on the far side is not observed here.
type Messenger interface {
	PostAcknowledgement(ctx context.Context, tx pgx.Tx, questionID, requester string) (string, error)
	PostCancelation(ctx context.Context, tx pgx.Tx, questionID, requester string) (string, error)
}

// Service is the arbitration state machine. Every exported method runs to
// completion as one transaction: the request row is locked first, the status
// precondition is checked as a hard guard, and all writes plus the audit
// event commit together or not at all.
type Service struct {
	pool      TxBeginner
	ledger    Ledger
	oracle    Oracle
	messenger Messenger
}

func NewService(pool TxBeginner, ledger Ledger, oracle Oracle, messenger Messenger) *Service {
	return &Service{
		pool:      pool,
		ledger:    ledger,
		oracle:    oracle,
		messenger: messenger,
	}
}

// ReceiveArbitrationRequest handles a new arbitration request relayed from
// the foreign proxy. The oracle is notified inside the operation; a refusal
// (or any oracle failure) is not an error but the Rejected outcome of the
// protocol, recorded with the oracle's reason when it gave one.
func (s *Service) ReceiveArbitrationRequest(ctx context.Context, questionID, requester, maxPrevious string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.ledger.LockRequest(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if req.Status != StatusNone {
		return ErrInvalidStatus
	}

	outcome, err := s.oracle.NotifyOfArbitrationRequest(ctx, questionID, requester, maxPrevious)
	if err != nil {
		// An oracle failure without a protocol-level reason still rejects
		// the attempt, with an empty reason.
		outcome = NotifyOutcome{Accepted: false}
	}

	if outcome.Accepted {
		if err := s.ledger.SetStatus(ctx, tx, questionID, requester, StatusNotified); err != nil {
			return err
		}
		if err := s.ledger.SetQuestionArbitrator(ctx, tx, questionID, requester); err != nil {
			return err
		}
		if err := s.ledger.AppendEvent(ctx, tx, questionID, requester, EventRequestNotified, map[string]any{
			"max_previous": maxPrevious,
		}); err != nil {
			return err
		}
	} else {
		if err := s.ledger.SetStatus(ctx, tx, questionID, requester, StatusRejected); err != nil {
			return err
		}
		if err := s.ledger.AppendEvent(ctx, tx, questionID, requester, EventRequestRejected, map[string]any{
			"reason": outcome.Reason,
		}); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit tx: %w", err)
	}
	return nil
}

// HandleNotifiedRequest acknowledges a notified request toward the foreign
// proxy. Open to any caller: the status guard alone makes it safe, and a
// third party may pay for the nudge if the original requester does not.
func (s *Service) HandleNotifiedRequest(ctx context.Context, questionID, requester string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.ledger.LockRequest(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if req.Status != StatusNotified {
		return ErrInvalidStatus
	}

	if err := s.ledger.SetStatus(ctx, tx, questionID, requester, StatusAwaitingRuling); err != nil {
		return err
	}
	msgID, err := s.messenger.PostAcknowledgement(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if err := s.ledger.AppendEvent(ctx, tx, questionID, requester, EventRequestAcknowledged, map[string]any{
		"message_id": msgID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit tx: %w", err)
	}
	return nil
}

// HandleRejectedRequest cancels a rejected request toward the foreign proxy
// and returns the (question, requester) slot to its initial state, so the
// same pair may attempt arbitration again. Open to any caller.
func (s *Service) HandleRejectedRequest(ctx context.Context, questionID, requester string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.ledger.LockRequest(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if req.Status != StatusRejected {
		return ErrInvalidStatus
	}

	if err := s.ledger.SetStatus(ctx, tx, questionID, requester, StatusNone); err != nil {
		return err
	}
	msgID, err := s.messenger.PostCancelation(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if err := s.ledger.AppendEvent(ctx, tx, questionID, requester, EventRequestCanceled, map[string]any{
		"message_id": msgID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit tx: %w", err)
	}
	return nil
}

// ReceiveArbitrationFailure handles the foreign proxy's notice that the
// arbitration attempt failed and must be refunded. The oracle cancelation is
// part of the same operation; if it fails the whole operation rolls back.
func (s *Service) ReceiveArbitrationFailure(ctx context.Context, questionID, requester string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.ledger.LockRequest(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if req.Status != StatusAwaitingRuling {
		return ErrInvalidStatus
	}

	if err := s.ledger.SetStatus(ctx, tx, questionID, requester, StatusNone); err != nil {
		return err
	}
	if err := s.oracle.CancelArbitration(ctx, questionID); err != nil {
		return fmt.Errorf("arbitration: cancel with oracle: %w", err)
	}
	if err := s.ledger.AppendEvent(ctx, tx, questionID, requester, EventArbitrationFailed, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit tx: %w", err)
	}
	return nil
}

// ReceiveArbitrationAnswer stores the arbitrator's ruling. The requester is
// resolved through the accepted slot for the question; by this point exactly
// one requester owns the arbitration.
func (s *Service) ReceiveArbitrationAnswer(ctx context.Context, questionID, answer string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	requester, err := s.ledger.QuestionArbitrator(ctx, tx, questionID)
	if err != nil {
		return err
	}
	req, err := s.ledger.LockRequest(ctx, tx, questionID, requester)
	if err != nil {
		return err
	}
	if req.Status != StatusAwaitingRuling {
		return ErrInvalidStatus
	}

	if err := s.ledger.SetAnswer(ctx, tx, questionID, requester, answer); err != nil {
		return err
	}
	if err := s.ledger.AppendEvent(ctx, tx, questionID, requester, EventArbitratorAnswered, map[string]any{
		"answer": answer,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit tx: %w", err)
	}
	return nil
}

// ReportArbitrationAnswer submits the stored ruling to the oracle on behalf
// of the accepted requester. Open to any caller; supplying the requester
// explicitly would be redundant and spoofable, so it is resolved through the
// accepted slot instead.
func (s *Service) ReportArbitrationAnswer(ctx context.Context, params ReportParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arbitration: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	requester, err := s.ledger.QuestionArbitrator(ctx, tx, params.QuestionID)
	if err != nil {
		return err
	}
	req, err := s.ledger.LockRequest(ctx, tx, params.QuestionID, requester)
	if err != nil {
		return err
	}
	if req.Status != StatusRuled {
		return ErrInvalidStatus
	}
	if req.ArbitratorAnswer == nil {
		return fmt.Errorf("arbitration: ruled request missing answer")
	}

	if err := s.ledger.SetStatus(ctx, tx, params.QuestionID, requester, StatusFinished); err != nil {
		return err
	}
	if err := s.oracle.AssignWinnerAndSubmitAnswerByArbitrator(ctx, AssignWinnerParams{
		QuestionID:               params.QuestionID,
		Answer:                   *req.ArbitratorAnswer,
		PayeeIfWrong:             requester,
		LastHistoryHash:          params.LastHistoryHash,
		LastAnswerOrCommitmentID: params.LastAnswerOrCommitmentID,
		LastAnswerer:             params.LastAnswerer,
	}); err != nil {
		return fmt.Errorf("arbitration: submit answer to oracle: %w", err)
	}
	if err := s.ledger.AppendEvent(ctx, tx, params.QuestionID, requester, EventArbitrationFinished, map[string]any{
		"answer": *req.ArbitratorAnswer,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arbitration: commit tx: %w", err)
	}
	return nil
}
