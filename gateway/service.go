package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"homeproxy/arbitration"
)

var (
	// ErrUnauthorizedCaller signals a privileged forward call from an address
	// other than the registered foreign proxy. Fatal to the call; no state
	// was touched.
	ErrUnauthorizedCaller = errors.New("gateway: caller is not the foreign proxy")
	// ErrInvalidArgument wraps wire-format validation failures.
	ErrInvalidArgument = errors.New("gateway: invalid argument")
)

// Arbitration is the state-machine surface the gateway dispatches into.
type Arbitration interface {
	ReceiveArbitrationRequest(ctx context.Context, questionID, requester, maxPrevious string) error
	ReceiveArbitrationAnswer(ctx context.Context, questionID, answer string) error
	ReceiveArbitrationFailure(ctx context.Context, questionID, requester string) error
	HandleNotifiedRequest(ctx context.Context, questionID, requester string) error
	HandleRejectedRequest(ctx context.Context, questionID, requester string) error
	ReportArbitrationAnswer(ctx context.Context, params arbitration.ReportParams) error
}

// ConfigStore resolves the registered foreign proxy.
type ConfigStore interface {
	Get(ctx context.Context) (ForeignProxy, error)
	Register(ctx context.Context, address string, chainID int64) error
}

// Service validates and dispatches forward-channel calls. The three receive
// operations require the authenticated caller to be the registered foreign
// proxy; the three handle/report operations accept any caller because their
// status guards alone make them safe.
type Service struct {
	config ConfigStore
	arb    Arbitration
}

func NewService(config ConfigStore, arb Arbitration) *Service {
	return &Service{config: config, arb: arb}
}

// RegisterForeignProxy performs the one-time counterpart registration.
func (s *Service) RegisterForeignProxy(ctx context.Context, address string, chainID int64) error {
	if err := validAddress(address); err != nil {
		return err
	}
	if chainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidArgument)
	}
	return s.config.Register(ctx, address, chainID)
}

// ReceiveArbitrationRequest dispatches a new arbitration request from the
// foreign proxy.
func (s *Service) ReceiveArbitrationRequest(ctx context.Context, caller, questionID, requester, maxPrevious string) error {
	if err := validHash(questionID, "question id"); err != nil {
		return err
	}
	if err := validAddress(requester); err != nil {
		return err
	}
	if err := validUint(maxPrevious); err != nil {
		return err
	}
	if err := s.requireForeignProxy(ctx, caller); err != nil {
		return err
	}
	return s.arb.ReceiveArbitrationRequest(ctx, questionID, requester, maxPrevious)
}

// ReceiveArbitrationAnswer dispatches the arbitrator's answer from the
// foreign proxy.
func (s *Service) ReceiveArbitrationAnswer(ctx context.Context, caller, questionID, answer string) error {
	if err := validHash(questionID, "question id"); err != nil {
		return err
	}
	if err := validHash(answer, "answer"); err != nil {
		return err
	}
	if err := s.requireForeignProxy(ctx, caller); err != nil {
		return err
	}
	return s.arb.ReceiveArbitrationAnswer(ctx, questionID, answer)
}

// ReceiveArbitrationFailure dispatches the failed-arbitration notice from
// the foreign proxy.
func (s *Service) ReceiveArbitrationFailure(ctx context.Context, caller, questionID, requester string) error {
	if err := validHash(questionID, "question id"); err != nil {
		return err
	}
	if err := validAddress(requester); err != nil {
		return err
	}
	if err := s.requireForeignProxy(ctx, caller); err != nil {
		return err
	}
	return s.arb.ReceiveArbitrationFailure(ctx, questionID, requester)
}

// HandleNotifiedRequest nudges a notified request forward. Any caller.
func (s *Service) HandleNotifiedRequest(ctx context.Context, questionID, requester string) error {
	if err := validHash(questionID, "question id"); err != nil {
		return err
	}
	if err := validAddress(requester); err != nil {
		return err
	}
	return s.arb.HandleNotifiedRequest(ctx, questionID, requester)
}

// HandleRejectedRequest nudges a rejected request back to its initial state.
// Any caller.
func (s *Service) HandleRejectedRequest(ctx context.Context, questionID, requester string) error {
	if err := validHash(questionID, "question id"); err != nil {
		return err
	}
	if err := validAddress(requester); err != nil {
		return err
	}
	return s.arb.HandleRejectedRequest(ctx, questionID, requester)
}

// ReportArbitrationAnswer submits a ruled answer to the oracle. Any caller.
func (s *Service) ReportArbitrationAnswer(ctx context.Context, params arbitration.ReportParams) error {
	if err := validHash(params.QuestionID, "question id"); err != nil {
		return err
	}
	if err := validHash(params.LastHistoryHash, "last history hash"); err != nil {
		return err
	}
	if err := validHash(params.LastAnswerOrCommitmentID, "last answer or commitment id"); err != nil {
		return err
	}
	if err := validAddress(params.LastAnswerer); err != nil {
		return err
	}
	return s.arb.ReportArbitrationAnswer(ctx, params)
}

func (s *Service) requireForeignProxy(ctx context.Context, caller string) error {
	fp, err := s.config.Get(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(caller, fp.Address) {
		return ErrUnauthorizedCaller
	}
	return nil
}

// validHash accepts a 32-byte 0x-prefixed hex value.
func validHash(v, name string) error {
	if err := validHex(v, 32); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
	}
	return nil
}

// validAddress accepts a 20-byte 0x-prefixed hex value.
func validAddress(v string) error {
	if err := validHex(v, 20); err != nil {
		return fmt.Errorf("%w: address: %v", ErrInvalidArgument, err)
	}
	return nil
}

func validHex(v string, byteLen int) error {
	if !strings.HasPrefix(v, "0x") {
		return fmt.Errorf("missing 0x prefix")
	}
	digits := v[2:]
	if len(digits) != byteLen*2 {
		return fmt.Errorf("want %d hex chars, got %d", byteLen*2, len(digits))
	}
	for _, c := range digits {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return fmt.Errorf("non-hex character %q", c)
		}
	}
	return nil
}

// validUint accepts a non-empty decimal string (the bond ceiling is a
// 256-bit quantity on the wire, so it never fits a native integer).
func validUint(v string) error {
	if v == "" {
		return fmt.Errorf("%w: max previous required", ErrInvalidArgument)
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: max previous must be decimal", ErrInvalidArgument)
		}
	}
	return nil
}
