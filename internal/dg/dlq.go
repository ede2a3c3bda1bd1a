package dg

import (
	"context"
	"encoding/json"
)

// SendToDLQ parks a row the upserter could not write after its retry
// budget was exhausted, so it stops blocking the rest of the batch. A
// repeat failure for the same (accountID, objectKind, providerID) bumps
// attempt_count and last_seen_at instead of creating a duplicate row.
func (g *Gateway) SendToDLQ(ctx context.Context, accountID, objectKind, providerID string, raw json.RawMessage, cause error) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		INSERT INTO %[1]s.sync_dlq (account_id, object_kind, provider_id, raw_document, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, object_kind, provider_id) DO UPDATE SET
			raw_document = excluded.raw_document,
			error_message = excluded.error_message,
			attempt_count = %[1]s.sync_dlq.attempt_count + 1,
			last_seen_at = now()
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, accountID, objectKind, providerID, raw, cause.Error())
	return classify(err)
}

// DLQEntry is one parked row, returned to operators inspecting stuck
// writes.
type DLQEntry struct {
	ID           int64
	AccountID    string
	ObjectKind   string
	ProviderID   string
	RawDocument  json.RawMessage
	ErrorMessage string
	AttemptCount int
}

// ListDLQ returns every parked row for accountID, newest first.
func (g *Gateway) ListDLQ(ctx context.Context, accountID string) ([]DLQEntry, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		SELECT id, account_id, object_kind, provider_id, raw_document, error_message, attempt_count
		FROM %[1]s.sync_dlq WHERE account_id = $1 ORDER BY last_seen_at DESC
	`, g.schema)
	rows, err := g.pool.Query(ctx, sql, accountID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var e DLQEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.ObjectKind, &e.ProviderID, &e.RawDocument, &e.ErrorMessage, &e.AttemptCount); err != nil {
			return nil, classify(err)
		}
		out = append(out, e)
	}
	return out, classify(rows.Err())
}

// DeleteDLQEntry removes a parked row once an operator has resolved it
// manually (e.g. by re-running backfill for that object after fixing the
// underlying cause).
func (g *Gateway) DeleteDLQEntry(ctx context.Context, id int64) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`DELETE FROM %[1]s.sync_dlq WHERE id = $1`, g.schema)
	_, err := g.pool.Exec(ctx, sql, id)
	return classify(err)
}
