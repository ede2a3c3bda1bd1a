package dg

import "context"

// Merchant maps an ingress Host header to the tenant account that owns
// it and the secret its webhook events are signed with.
type Merchant struct {
	Host          string
	AccountID     string
	WebhookSecret string
}

// GetMerchantByHost resolves the tenant for an ingress Host header, or
// nil if the host is unknown.
func (g *Gateway) GetMerchantByHost(ctx context.Context, host string) (*Merchant, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`SELECT host, account_id, webhook_secret FROM %[1]s.merchants WHERE host = $1`, g.schema)
	var m Merchant
	row := g.pool.QueryRow(ctx, sql, host)
	if err := row.Scan(&m.Host, &m.AccountID, &m.WebhookSecret); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &m, nil
}

// GetMerchantSecretForAccount returns the signing secret for an account
// that is routed through at least one merchant host. When several hosts
// map to the same account they share a signing secret; if they ever
// disagree, the secret of the alphabetically first host is returned.
func (g *Gateway) GetMerchantSecretForAccount(ctx context.Context, accountID string) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		SELECT webhook_secret FROM %[1]s.merchants
		WHERE account_id = $1 ORDER BY host LIMIT 1
	`, g.schema)
	var secret string
	if err := g.pool.QueryRow(ctx, sql, accountID).Scan(&secret); err != nil {
		return "", classify(err)
	}
	return secret, nil
}

// UpsertMerchant creates or updates the routing row for m.Host.
func (g *Gateway) UpsertMerchant(ctx context.Context, m Merchant) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		INSERT INTO %[1]s.merchants (host, account_id, webhook_secret)
		VALUES ($1, $2, $3)
		ON CONFLICT (host) DO UPDATE SET
			account_id = excluded.account_id,
			webhook_secret = excluded.webhook_secret
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, m.Host, m.AccountID, m.WebhookSecret)
	return classify(err)
}
