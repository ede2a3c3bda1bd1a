package dg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

// ClaimedTask is the coordinate of an Object Run row claimed for
// processing, returned by ClaimNextTask.
type ClaimedTask struct {
	AccountID  string
	StartedAt  time.Time
	ObjectKind string
	CreatedGTE int64
	Cursor     string
	PageCursor string
	CreatedLTE int64
}

// The claim locks one pending row, skipping any already locked by a
// concurrent worker, and flips it to running in the same statement.
// Claim exclusivity is a property of this one atomic statement, not of
// application-level coordination.
const claimNextTaskSQL = `
WITH candidate AS (
  SELECT account_id, run_started_at, object_kind, created_gte
  FROM %[1]s.object_runs
  WHERE account_id = $1
    AND run_started_at = $2
    AND status = 'pending'
    AND (SELECT count(*) FROM %[1]s.object_runs
           WHERE account_id = $1 AND run_started_at = $2 AND status = 'running') < $3
  ORDER BY object_kind
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
UPDATE %[1]s.object_runs r
SET status = 'running', updated_at = now()
FROM candidate c
WHERE r.account_id = c.account_id
  AND r.run_started_at = c.run_started_at
  AND r.object_kind = c.object_kind
  AND r.created_gte = c.created_gte
RETURNING r.account_id, r.run_started_at, r.object_kind, r.created_gte,
          r.cursor, r.page_cursor, COALESCE(r.created_lte, 0)
`

// ClaimNextTask atomically claims the lowest-priority pending object run
// for the given sync run and maxConcurrent cap, or returns (nil, nil) if
// none is claimable (either nothing pending, or the concurrency cap is
// already reached).
func (g *Gateway) ClaimNextTask(
	ctx context.Context, accountID string, startedAt time.Time, maxConcurrent int,
) (*ClaimedTask, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(claimNextTaskSQL, g.schema)
	row := g.pool.QueryRow(ctx, sql, accountID, startedAt, maxConcurrent)

	var t ClaimedTask
	var cursor, pageCursor *string
	if err := row.Scan(
		&t.AccountID, &t.StartedAt, &t.ObjectKind, &t.CreatedGTE,
		&cursor, &pageCursor, &t.CreatedLTE,
	); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classify(err)
	}
	if cursor != nil {
		t.Cursor = *cursor
	}
	if pageCursor != nil {
		t.PageCursor = *pageCursor
	}
	return &t, nil
}

const cancelStaleRunsSQL = `
UPDATE %[1]s.sync_runs
SET closed_at = now(), status = 'cancelled'
WHERE closed_at IS NULL
  AND started_at < $1
RETURNING account_id, started_at
`

const failRunningObjectsForCancelledRunSQL = `
UPDATE %[1]s.object_runs
SET status = 'error', error_message = 'cancelled'
WHERE account_id = $1 AND run_started_at = $2
  AND status IN ('running', 'pending')
`

// CancelStaleRuns closes every open sync run older than maxAge and
// marks its in-flight object runs as errored with message "cancelled".
func (g *Gateway) CancelStaleRuns(ctx context.Context, maxAge time.Duration) (int, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	cutoff := time.Now().Add(-maxAge)
	cancelled := 0
	err := g.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sprintfSchema(cancelStaleRunsSQL, g.schema), cutoff)
		if err != nil {
			return classify(err)
		}
		type key struct {
			accountID string
			startedAt time.Time
		}
		var toFail []key
		for rows.Next() {
			var k key
			if err := rows.Scan(&k.accountID, &k.startedAt); err != nil {
				rows.Close()
				return classify(err)
			}
			toFail = append(toFail, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return classify(err)
		}

		for _, k := range toFail {
			if _, err := tx.Exec(ctx, sprintfSchema(failRunningObjectsForCancelledRunSQL, g.schema),
				k.accountID, k.startedAt); err != nil {
				return classify(err)
			}
		}
		cancelled = len(toFail)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}

// ErrNoClaimableTask is returned by callers that want to distinguish "no
// work right now" from a hard failure, even though ClaimNextTask itself
// signals that case with a nil, nil return.
var ErrNoClaimableTask = ekind.Newf(ekind.NotFound, "no claimable task")
