package dg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dbashand/stripe-sync-engine/internal/types"
)

// CreateSyncRun inserts a new open Sync Run row for (accountID,
// triggerLabel), relying on the sync_runs_single_open index to reject a
// second concurrent open run for the same trigger label. Call this
// under WithAdvisoryLock("sync-run:"+accountID+":"+triggerLabel) so a
// unique-violation race turns into a clean "join the existing run"
// decision upstream instead of a surprise Conflict bubbling to
// callers.
func (g *Gateway) CreateSyncRun(ctx context.Context, tx pgx.Tx, key types.SyncRunKey, maxConcurrent int) error {
	sql := sprintfSchema(`
		INSERT INTO %[1]s.sync_runs (account_id, started_at, trigger_label, status, max_concurrent)
		VALUES ($1, $2, $3, 'running', $4)
	`, g.schema)
	_, err := tx.Exec(ctx, sql, key.AccountID, key.StartedAt, key.TriggerLabel, maxConcurrent)
	return classify(err)
}

// FindOpenSyncRun returns the currently open Sync Run for (accountID,
// triggerLabel), or nil if none is open, so the run registry can attach
// to in-flight work instead of starting a redundant run.
func (g *Gateway) FindOpenSyncRun(ctx context.Context, accountID, triggerLabel string) (*types.SyncRunKey, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		SELECT account_id, started_at, trigger_label
		FROM %[1]s.sync_runs
		WHERE account_id = $1 AND trigger_label = $2 AND closed_at IS NULL
	`, g.schema)
	var k types.SyncRunKey
	row := g.pool.QueryRow(ctx, sql, accountID, triggerLabel)
	if err := row.Scan(&k.AccountID, &k.StartedAt, &k.TriggerLabel); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &k, nil
}

// CreateObjectRuns eagerly inserts one pending Object Run row per kind
// in kinds. The full object set is materialized up front so progress
// accounting sees the whole denominator before the first object
// completes; a lazily discovered set could close the run early.
func (g *Gateway) CreateObjectRuns(ctx context.Context, tx pgx.Tx, key types.SyncRunKey, kinds []string, createdGTE int64) error {
	sql := sprintfSchema(`
		INSERT INTO %[1]s.object_runs (account_id, run_started_at, object_kind, created_gte, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT DO NOTHING
	`, g.schema)
	for _, kind := range kinds {
		if _, err := tx.Exec(ctx, sql, key.AccountID, key.StartedAt, kind, createdGTE); err != nil {
			return classify(err)
		}
	}
	return nil
}

// UpdateProgress persists the paging state for an in-flight Object Run
// after a page commits, so a crash mid-backfill resumes from the last
// committed cursor rather than restarting the object kind from scratch.
// When moreWork is true the row transitions back to pending: a worker
// processes exactly one page per claim, so the slice has to become
// claimable again for its next page.
func (g *Gateway) UpdateProgress(ctx context.Context, key types.ObjectRunKey, cursor, pageCursor string, processedDelta int64, moreWork bool) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		UPDATE %[1]s.object_runs
		SET cursor = COALESCE(NULLIF($5, ''), cursor),
		    page_cursor = NULLIF($6, ''),
		    processed_count = processed_count + $7,
		    status = CASE WHEN $8 THEN 'pending' ELSE status END,
		    updated_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_kind = $3 AND created_gte = $4
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, key.AccountID, key.StartedAt, key.ObjectKind, key.CreatedGTE,
		cursor, pageCursor, processedDelta, moreWork)
	return classify(err)
}

// CompleteObjectRun marks an Object Run done.
func (g *Gateway) CompleteObjectRun(ctx context.Context, key types.ObjectRunKey) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		UPDATE %[1]s.object_runs
		SET status = 'complete', completed_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_kind = $3 AND created_gte = $4
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, key.AccountID, key.StartedAt, key.ObjectKind, key.CreatedGTE)
	return classify(err)
}

// FailObjectRun marks an Object Run errored with message, the
// running/pending → error transition.
func (g *Gateway) FailObjectRun(ctx context.Context, key types.ObjectRunKey, message string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		UPDATE %[1]s.object_runs
		SET status = 'error', error_message = $5, completed_at = now()
		WHERE account_id = $1 AND run_started_at = $2 AND object_kind = $3 AND created_gte = $4
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, key.AccountID, key.StartedAt, key.ObjectKind, key.CreatedGTE, message)
	return classify(err)
}

// ReclaimStaleObjectRuns resets running object runs that have not
// committed progress for olderThan back to pending, so another worker
// can pick them up. Rows with recent progress are left alone even when
// their run is old.
func (g *Gateway) ReclaimStaleObjectRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		UPDATE %[1]s.object_runs r
		SET status = 'pending', updated_at = now()
		FROM %[1]s.sync_runs s
		WHERE r.account_id = s.account_id AND r.run_started_at = s.started_at
		  AND r.status = 'running'
		  AND r.updated_at < $1
		  AND s.closed_at IS NULL
	`, g.schema)
	tag, err := g.pool.Exec(ctx, sql, time.Now().Add(-olderThan))
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}

// CloseRun closes a Sync Run once every Object Run under it has left the
// pending/running states, setting status to complete if all succeeded or
// partial if any errored.
func (g *Gateway) CloseRun(ctx context.Context, key types.SyncRunKey) (*types.RunsSummary, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var summary *types.RunsSummary
	err := g.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		s, err := g.runsSummaryTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if s.Pending > 0 || s.Running > 0 {
			summary = s
			return nil
		}
		status := "complete"
		if s.Error > 0 {
			status = "partial"
		}
		sql := sprintfSchema(`UPDATE %[1]s.sync_runs SET closed_at = now(), status = $3
			WHERE account_id = $1 AND started_at = $2`, g.schema)
		if _, err := tx.Exec(ctx, sql, key.AccountID, key.StartedAt, status); err != nil {
			return classify(err)
		}
		s.Status = status
		now := time.Now()
		s.ClosedAt = &now
		summary = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// RunsSummary returns the current projection for a Sync Run without
// attempting to close it.
func (g *Gateway) RunsSummary(ctx context.Context, key types.SyncRunKey) (*types.RunsSummary, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var summary *types.RunsSummary
	err := g.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		s, err := g.runsSummaryTx(ctx, tx, key)
		summary = s
		return err
	})
	return summary, err
}

func (g *Gateway) runsSummaryTx(ctx context.Context, tx pgx.Tx, key types.SyncRunKey) (*types.RunsSummary, error) {
	sql := sprintfSchema(`
		SELECT s.account_id, s.started_at, s.closed_at, s.status,
		       count(r.*) FILTER (WHERE true),
		       count(r.*) FILTER (WHERE r.status = 'pending'),
		       count(r.*) FILTER (WHERE r.status = 'running'),
		       count(r.*) FILTER (WHERE r.status = 'complete'),
		       count(r.*) FILTER (WHERE r.status = 'error')
		FROM %[1]s.sync_runs s
		LEFT JOIN %[1]s.object_runs r
		  ON r.account_id = s.account_id AND r.run_started_at = s.started_at
		WHERE s.account_id = $1 AND s.started_at = $2
		GROUP BY s.account_id, s.started_at, s.closed_at, s.status
	`, g.schema)
	var s types.RunsSummary
	row := tx.QueryRow(ctx, sql, key.AccountID, key.StartedAt)
	if err := row.Scan(&s.AccountID, &s.StartedAt, &s.ClosedAt, &s.Status,
		&s.Total, &s.Pending, &s.Running, &s.Complete, &s.Error); err != nil {
		return nil, classify(err)
	}
	return &s, nil
}
