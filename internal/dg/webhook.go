package dg

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dbashand/stripe-sync-engine/internal/types"
)

// FindWebhookByURL returns the managed webhook for (accountID, url),
// or nil if none exists yet.
func (g *Gateway) FindWebhookByURL(ctx context.Context, accountID, url string) (*types.ManagedWebhook, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		SELECT id, account_id, url, secret, created_at
		FROM %[1]s.managed_webhooks
		WHERE account_id = $1 AND url = $2
	`, g.schema)
	var w types.ManagedWebhook
	row := g.pool.QueryRow(ctx, sql, accountID, url)
	if err := row.Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.CreatedAt); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &w, nil
}

// CreateWebhook inserts a new managed webhook row, meant to be called
// under the advisory lock the webhook manager takes around
// find-or-create so two concurrent callers cannot both win the
// provider-side create call and then race on the unique
// (account_id, url) index.
func (g *Gateway) CreateWebhook(ctx context.Context, tx pgx.Tx, w types.ManagedWebhook) error {
	sql := sprintfSchema(`
		INSERT INTO %[1]s.managed_webhooks (id, account_id, url, secret, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, g.schema)
	_, err := tx.Exec(ctx, sql, w.ID, w.AccountID, w.URL, w.Secret, w.CreatedAt)
	return classify(err)
}

// DeleteWebhook removes the managed webhook row for id. The row is
// deleted locally even when the provider-side endpoint was already
// removed out of band; checking the provider response is the caller's
// responsibility.
func (g *Gateway) DeleteWebhook(ctx context.Context, accountID, id string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`DELETE FROM %[1]s.managed_webhooks WHERE account_id = $1 AND id = $2`, g.schema)
	_, err := g.pool.Exec(ctx, sql, accountID, id)
	return classify(err)
}

// ListWebhooks returns every managed webhook owned by accountID.
func (g *Gateway) ListWebhooks(ctx context.Context, accountID string) ([]types.ManagedWebhook, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		SELECT id, account_id, url, secret, created_at
		FROM %[1]s.managed_webhooks WHERE account_id = $1 ORDER BY created_at
	`, g.schema)
	rows, err := g.pool.Query(ctx, sql, accountID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []types.ManagedWebhook
	for rows.Next() {
		var w types.ManagedWebhook
		if err := rows.Scan(&w.ID, &w.AccountID, &w.URL, &w.Secret, &w.CreatedAt); err != nil {
			return nil, classify(err)
		}
		out = append(out, w)
	}
	return out, classify(rows.Err())
}
