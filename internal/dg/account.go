package dg

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/dbashand/stripe-sync-engine/internal/types"
)

// UpsertAccount creates or refreshes the Account row for id, folding
// the new api-key hash into the existing set.
func (g *Gateway) UpsertAccount(ctx context.Context, id string, raw json.RawMessage, keyHash string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		INSERT INTO %[1]s.accounts (id, raw_document, api_key_hashes, last_synced_at)
		VALUES ($1, $2, ARRAY[$3]::text[], now())
		ON CONFLICT (id) DO UPDATE SET
			raw_document = excluded.raw_document,
			api_key_hashes = (
				SELECT array_agg(DISTINCT h) FROM unnest(%[1]s.accounts.api_key_hashes || excluded.api_key_hashes) h
			),
			last_synced_at = now()
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, id, raw, keyHash)
	return classify(err)
}

// GetAccount returns the Account row for id.
func (g *Gateway) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`SELECT id, raw_document, api_key_hashes, last_synced_at FROM %[1]s.accounts WHERE id = $1`, g.schema)
	var a types.Account
	row := g.pool.QueryRow(ctx, sql, id)
	if err := row.Scan(&a.ID, &a.RawDocument, &a.APIKeyHashes, &a.LastSyncedAt); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &a, nil
}

// DangerousDeleteResult reports what an account teardown removed.
type DangerousDeleteResult struct {
	DeletedAccountID    string
	DeletedRecordCounts map[string]int64
	Warnings            []string
}

// DangerouslyDeleteSyncedAccountData removes an account and every row
// owned by it across the given entity tables. This is the one place
// Account rows are ever deleted.
func (g *Gateway) DangerouslyDeleteSyncedAccountData(
	ctx context.Context, accountID string, entityTables []string,
) (*DangerousDeleteResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	result := &DangerousDeleteResult{
		DeletedAccountID:    accountID,
		DeletedRecordCounts: make(map[string]int64, len(entityTables)),
	}

	err := g.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, table := range entityTables {
			tag, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE account_id = $1", accountID)
			if err != nil {
				result.Warnings = append(result.Warnings, "failed to delete from "+table+": "+err.Error())
				continue
			}
			result.DeletedRecordCounts[table] = tag.RowsAffected()
		}

		sql := sprintfSchema(`DELETE FROM %[1]s.accounts WHERE id = $1`, g.schema)
		if _, err := tx.Exec(ctx, sql, accountID); err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
