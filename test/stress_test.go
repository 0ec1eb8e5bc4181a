package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"homeproxy/arbitration"
	"homeproxy/bridge"
	"homeproxy/test/actors"
	"homeproxy/test/chaos"
	"homeproxy/test/infra"
	"homeproxy/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

// TestArbitrationConcurrency hammers the state machine with competing
// requesters, nudgers, failures, and rulings over a small set of questions,
// while SQL oracles continuously check the ledger invariants.
func TestArbitrationConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("PROXY_STRESS_PG_DSN") != "":
		dsn = os.Getenv("PROXY_STRESS_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	questions, requesters := mustSeed(t, ctx, pool)

	oracle := newStressOracle()
	ledger := arbitration.NewRepository(pool)
	svc := arbitration.NewService(pool, ledger, oracle, bridge.NewOutbox())
	outboxRepo := bridge.NewRepository(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Requester(ctx2, svc, questions, requesters, stop) })
		g.Go(func() error { return actors.Acknowledger(ctx2, svc, questions, requesters, stop) })
	}
	g.Go(func() error { return actors.Canceler(ctx2, svc, questions, requesters, stop) })
	g.Go(func() error { return actors.Arbitrator(ctx2, svc, questions, stop) })
	g.Go(func() error { return actors.Failer(ctx2, svc, questions, requesters, stop) })
	g.Go(func() error { return actors.Reporter(ctx2, svc, questions, stop) })
	g.Go(func() error { return actors.Relayer(ctx2, outboxRepo, stop) })
	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) (questions, requesters []string) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO foreign_proxy (id, address, chain_id)
		VALUES (true, '0x00000000000000000000000000000000000000ff', 1)
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		t.Fatalf("seed foreign proxy: %v", err)
	}
	for i := 0; i < 3; i++ {
		questions = append(questions, fmt.Sprintf("0x%064x", rand.Int63()))
	}
	for i := 0; i < 4; i++ {
		requesters = append(requesters, fmt.Sprintf("0x%040x", rand.Int63()))
	}
	return questions, requesters
}

// stressOracle models the oracle's own fan-in rule: one active arbitration
// per question at a time, occasional refusals for flavor, and questions
// retired once a final answer lands.
type stressOracle struct {
	mu        sync.Mutex
	active    map[string]string
	finalized map[string]bool
}

func newStressOracle() *stressOracle {
	return &stressOracle{
		active:    make(map[string]string),
		finalized: make(map[string]bool),
	}
}

func (o *stressOracle) NotifyOfArbitrationRequest(_ context.Context, questionID, requester, _ string) (arbitration.NotifyOutcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized[questionID] {
		return arbitration.NotifyOutcome{Accepted: false, Reason: "question already finalized"}, nil
	}
	if _, busy := o.active[questionID]; busy {
		return arbitration.NotifyOutcome{Accepted: false, Reason: "arbitration already requested"}, nil
	}
	if rand.Intn(4) == 0 {
		return arbitration.NotifyOutcome{Accepted: false, Reason: "bond increased"}, nil
	}
	o.active[questionID] = requester
	return arbitration.NotifyOutcome{Accepted: true}, nil
}

func (o *stressOracle) CancelArbitration(_ context.Context, questionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, questionID)
	return nil
}

func (o *stressOracle) AssignWinnerAndSubmitAnswerByArbitrator(_ context.Context, params arbitration.AssignWinnerParams) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, params.QuestionID)
	o.finalized[params.QuestionID] = true
	return nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"requests", `SELECT question_id, requester, status, updated_at FROM requests ORDER BY updated_at DESC LIMIT 50`},
		{"question_arbitrators", `SELECT question_id, requester, updated_at FROM question_arbitrators ORDER BY updated_at DESC LIMIT 50`},
		{"arbitration_events", `SELECT id, question_id, requester, type, created_at FROM arbitration_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, operation, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
