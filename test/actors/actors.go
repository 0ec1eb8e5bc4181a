package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"homeproxy/arbitration"
	"homeproxy/bridge"
)

// The actors are load generators, not assertions: every state-machine error
// they hit is either expected contention (invalid status, no accepted
// requester) or chaos-induced connection churn, so errors are dropped and
// correctness is judged by the SQL oracles over the resulting ledger.

func jitter() { time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond) }

func pick(values []string) string { return values[rand.Intn(len(values))] }

func randomAnswer() string { return fmt.Sprintf("0x%064x", rand.Int63()) }

// Requester fires competing new-request calls for random (question,
// requester) pairs.
func Requester(ctx context.Context, svc *arbitration.Service, questions, requesters []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.ReceiveArbitrationRequest(ctx, pick(questions), pick(requesters), "100")
		jitter()
	}
}

// Acknowledger nudges notified requests forward, racing other acknowledgers
// over the same pairs.
func Acknowledger(ctx context.Context, svc *arbitration.Service, questions, requesters []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.HandleNotifiedRequest(ctx, pick(questions), pick(requesters))
		jitter()
	}
}

// Canceler resets rejected requests back to their initial state.
func Canceler(ctx context.Context, svc *arbitration.Service, questions, requesters []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.HandleRejectedRequest(ctx, pick(questions), pick(requesters))
		jitter()
	}
}

// Arbitrator delivers rulings for random questions.
func Arbitrator(ctx context.Context, svc *arbitration.Service, questions []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.ReceiveArbitrationAnswer(ctx, pick(questions), randomAnswer())
		jitter()
	}
}

// Failer injects mid-flight arbitration failures.
func Failer(ctx context.Context, svc *arbitration.Service, questions, requesters []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.ReceiveArbitrationFailure(ctx, pick(questions), pick(requesters))
		jitter()
	}
}

// Reporter pushes ruled answers to the oracle.
func Reporter(ctx context.Context, svc *arbitration.Service, questions []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_ = svc.ReportArbitrationAnswer(ctx, arbitration.ReportParams{
			QuestionID:               pick(questions),
			LastHistoryHash:          randomAnswer(),
			LastAnswerOrCommitmentID: randomAnswer(),
			LastAnswerer:             "0x00000000000000000000000000000000000000aa",
		})
		jitter()
	}
}

// Relayer drains the outbox the way the external relayer would: pick up
// pending messages, confirm them relayed.
func Relayer(ctx context.Context, repo *bridge.Repository, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		msgs, err := repo.ListPending(ctx, 10)
		if err == nil {
			for _, m := range msgs {
				_, _ = repo.MarkRelayed(ctx, m.ID)
			}
		}
		jitter()
	}
}
