package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_active_requester",
			SQL: `SELECT question_id, COUNT(*) FROM requests
                  WHERE status IN ('notified','awaiting_ruling','ruled','finished')
                  GROUP BY question_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_slot_consistent",
			SQL: `SELECT r.question_id, r.requester, r.status FROM requests r
                  LEFT JOIN question_arbitrators qa ON qa.question_id = r.question_id
                  WHERE r.status IN ('notified','awaiting_ruling','ruled','finished')
                    AND (qa.requester IS NULL OR qa.requester <> r.requester)`,
		},
		{
			Name: "O3_ruled_has_answer",
			SQL: `SELECT question_id, requester FROM requests
                  WHERE status IN ('ruled','finished') AND arbitrator_answer IS NULL`,
		},
		{
			Name: "O4_transition_order",
			SQL: `SELECT f.id, f.question_id, f.requester FROM arbitration_events f
                  WHERE f.type = 'ARBITRATION_FINISHED'
                    AND (
                      NOT EXISTS (SELECT 1 FROM arbitration_events e
                                  WHERE e.question_id = f.question_id AND e.requester = f.requester
                                    AND e.type = 'ARBITRATOR_ANSWERED' AND e.id < f.id)
                      OR NOT EXISTS (SELECT 1 FROM arbitration_events e
                                     WHERE e.question_id = f.question_id AND e.requester = f.requester
                                       AND e.type = 'REQUEST_ACKNOWLEDGED' AND e.id < f.id)
                      OR NOT EXISTS (SELECT 1 FROM arbitration_events e
                                     WHERE e.question_id = f.question_id AND e.requester = f.requester
                                       AND e.type = 'REQUEST_NOTIFIED' AND e.id < f.id)
                    )`,
		},
		{
			Name: "O5_outbox_event_link",
			SQL: `SELECT o.id, o.operation FROM outbox o
                  WHERE NOT EXISTS (SELECT 1 FROM arbitration_events e
                                    WHERE e.payload->>'message_id' = o.id::text)`,
		},
		{
			Name: "O6_no_duplicate_posts",
			SQL: `SELECT payload->>'message_id', COUNT(*) FROM arbitration_events
                  WHERE type IN ('REQUEST_ACKNOWLEDGED','REQUEST_CANCELED')
                  GROUP BY 1 HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_reset_clears_ruling",
			SQL: `SELECT question_id, requester FROM requests
                  WHERE status IN ('none','rejected','notified','awaiting_ruling')
                    AND arbitrator_answer IS NOT NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
