// Package stripeapi adapts the stripe-go SDK to the sync engine's
// objectkind.Lister / objectkind.Revalidator interfaces and to
// wm.Remote. Nothing outside this package imports the SDK's types; the
// rest of the engine works in terms of generic JSON documents.
package stripeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
)

// Client wraps a stripe-go API client bound to one account's secret key.
type Client struct {
	API *client.API
}

// requestTimeout caps every provider HTTP call.
const requestTimeout = 30 * time.Second

// NewClient constructs a Client authenticated with secretKey.
func NewClient(secretKey string) *Client {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: requestTimeout},
	})
	backends := &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, &stripe.BackendConfig{
			HTTPClient: &http.Client{Timeout: requestTimeout},
		}),
	}
	return &Client{API: client.New(secretKey, backends)}
}

// GetAuthenticatedAccount fetches the account the secret key belongs
// to. The account row is created from this document on the first
// successful authenticated call.
func (c *Client) GetAuthenticatedAccount(ctx context.Context) (id string, raw json.RawMessage, err error) {
	account, err := c.API.Accounts.Get()
	if err != nil {
		return "", nil, classify(err)
	}
	doc, err := json.Marshal(account)
	if err != nil {
		return "", nil, ekind.New(ekind.Permanent, err)
	}
	return account.ID, doc, nil
}
