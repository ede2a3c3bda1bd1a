package dg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dbashand/stripe-sync-engine/internal/hlc"
	"github.com/dbashand/stripe-sync-engine/internal/ident"
)

// EntityRow is one row bound for an entity table.
type EntityRow struct {
	AccountID    string
	ID           string
	RawDocument  json.RawMessage
	LastSyncedAt hlc.Time
	Deleted      bool
}

// EntityOutcome reports what UpsertEntities did with one row.
type EntityOutcome struct {
	ID      string
	Skipped bool // true if the timestamp guard rejected the write
}

// UpsertEntities writes a batch of rows to table in a single multi-row
// INSERT ... ON CONFLICT DO UPDATE guarded by last_synced_at.
//
// The guard is expressed as `WHERE excluded.last_synced_at >=
// target.last_synced_at`: when it is not satisfied, Postgres simply
// leaves the existing row alone, and the row is reported as skipped
// rather than as an error.
func (g *Gateway) UpsertEntities(
	ctx context.Context, table ident.Table, rows []EntityRow,
) ([]EntityOutcome, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	var sb strings.Builder
	args := make([]any, 0, len(rows)*4)
	fmt.Fprintf(&sb, `INSERT INTO %s (account_id, id, raw_document, last_synced_at, deleted) VALUES `,
		table.Raw())
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, r.AccountID, r.ID, r.RawDocument, r.LastSyncedAt.Millis(), r.Deleted)
	}
	sb.WriteString(` ON CONFLICT (account_id, id) DO UPDATE SET
		raw_document = excluded.raw_document,
		last_synced_at = excluded.last_synced_at,
		deleted = excluded.deleted
		WHERE excluded.last_synced_at >= `)
	sb.WriteString(table.Raw())
	sb.WriteString(`.last_synced_at
		RETURNING id`)

	rowsOut, err := g.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rowsOut.Close()

	written := make(map[string]bool, len(rows))
	for rowsOut.Next() {
		var id string
		if err := rowsOut.Scan(&id); err != nil {
			return nil, classify(err)
		}
		written[id] = true
	}
	if err := rowsOut.Err(); err != nil {
		return nil, classify(err)
	}

	outcomes := make([]EntityOutcome, len(rows))
	for i, r := range rows {
		outcomes[i] = EntityOutcome{ID: r.ID, Skipped: !written[r.ID]}
	}
	return outcomes, nil
}

// SoftDeleteEntity sets the deleted flag on one row without removing it,
// applying the same timestamp guard as UpsertEntities.
func (g *Gateway) SoftDeleteEntity(
	ctx context.Context, table ident.Table, accountID, id string, lastSyncedAt hlc.Time,
) (skipped bool, err error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := fmt.Sprintf(`UPDATE %s SET deleted = true, last_synced_at = $1
		WHERE account_id = $2 AND id = $3 AND last_synced_at <= $1
		RETURNING id`, table.Raw())
	var got string
	row := g.pool.QueryRow(ctx, sql, lastSyncedAt.Millis(), accountID, id)
	if scanErr := row.Scan(&got); scanErr != nil {
		if isNoRows(scanErr) {
			return true, nil
		}
		return false, classify(scanErr)
	}
	return false, nil
}

// GetEntityLastSynced returns the stored last_synced_at for (accountID,
// id) in table, or hlc.Zero() if no row exists. The upserter uses this
// to decide whether a related-entity fetch is necessary.
func (g *Gateway) GetEntityLastSynced(
	ctx context.Context, table ident.Table, accountID, id string,
) (hlc.Time, bool, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := fmt.Sprintf(`SELECT last_synced_at FROM %s WHERE account_id = $1 AND id = $2`, table.Raw())
	var millis int64
	row := g.pool.QueryRow(ctx, sql, accountID, id)
	if err := row.Scan(&millis); err != nil {
		if isNoRows(err) {
			return hlc.Zero(), false, nil
		}
		return hlc.Zero(), false, classify(err)
	}
	return hlc.New(millis, 0), true, nil
}

// CountEntities returns the number of rows for an account in table.
func (g *Gateway) CountEntities(ctx context.Context, table ident.Table, accountID string) (int64, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := fmt.Sprintf(`SELECT count(*) FROM %s WHERE account_id = $1`, table.Raw())
	var n int64
	if err := g.pool.QueryRow(ctx, sql, accountID).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}
