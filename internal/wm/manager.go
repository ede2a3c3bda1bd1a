// Package wm implements the Webhook Manager: find-or-create and delete
// for the provider-side endpoints the sync engine owns. Reconciliation
// runs under a transactional advisory lock; the critical section is
// short-lived and always runs to completion within one call.
package wm

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/types"
)

func timeNow() time.Time { return time.Now() }

// RemoteEndpoint is the provider-side resource the stored webhook row
// is reconciled against.
type RemoteEndpoint struct {
	ID     string
	URL    string
	Secret string
}

// Remote is the provider-side webhook endpoint API, small enough that a
// stub trivially satisfies it in tests without a live account.
type Remote interface {
	// Get fetches the endpoint by id. It returns (nil, nil) when the
	// provider reports resource_missing, so callers can purge the stale
	// row and recreate.
	Get(ctx context.Context, id string) (*RemoteEndpoint, error)
	// Create subscribes a new endpoint to events, returning its id and
	// signing secret.
	Create(ctx context.Context, url string, events []string) (*RemoteEndpoint, error)
	// Delete removes the endpoint, tolerating an already-missing one.
	Delete(ctx context.Context, id string) error
}

// Manager finds or creates a managed webhook per (account, normalized
// url). Calls are serialized by an advisory lock, so concurrent callers
// share one endpoint instead of racing the provider-side create.
type Manager struct {
	gateway *dg.Gateway
	remote  Remote
}

// New constructs a Manager over gateway and remote.
func New(gateway *dg.Gateway, remote Remote) *Manager {
	return &Manager{gateway: gateway, remote: remote}
}

// Options configures FindOrCreateManagedWebhook.
type Options struct {
	// EnabledEvents is the event type set the endpoint subscribes to.
	EnabledEvents []string
}

// FindOrCreateManagedWebhook normalizes the url, takes the per-account
// lock, reconciles the stored row against the remote endpoint, and
// creates a new endpoint if none usable exists.
func (m *Manager) FindOrCreateManagedWebhook(ctx context.Context, accountID, rawURL string, opts Options) (*types.ManagedWebhook, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, ekind.New(ekind.Configuration, err)
	}

	var result *types.ManagedWebhook
	lockName := "webhook:" + accountID + ":" + normalized
	err = m.gateway.WithAdvisoryLock(ctx, lockName, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := m.gateway.FindWebhookByURL(ctx, accountID, normalized)
		if err != nil {
			return err
		}

		if existing != nil {
			remote, err := m.remote.Get(ctx, existing.ID)
			if err != nil {
				return err
			}
			if remote != nil && remote.Secret == existing.Secret {
				result = existing
				return nil
			}
			// Remote endpoint is gone or its secret no longer matches
			// ours: purge the stale row and fall through to create.
			if err := m.gateway.DeleteWebhook(ctx, accountID, existing.ID); err != nil {
				return err
			}
		}

		created, err := m.remote.Create(ctx, normalized, opts.EnabledEvents)
		if err != nil {
			return err
		}
		row := types.ManagedWebhook{
			ID:        created.ID,
			AccountID: accountID,
			URL:       normalized,
			Secret:    created.Secret,
			CreatedAt: timeNow(),
		}
		if err := m.gateway.CreateWebhook(ctx, tx, row); err != nil {
			return err
		}
		result = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteManagedWebhook removes both the remote endpoint and the stored
// row, tolerating a remote endpoint that is already gone.
func (m *Manager) DeleteManagedWebhook(ctx context.Context, accountID, id string) error {
	if err := m.remote.Delete(ctx, id); err != nil && !ekind.Is(err, ekind.NotFound) {
		return err
	}
	return m.gateway.DeleteWebhook(ctx, accountID, id)
}

// NormalizeURL lowercases the host and strips the trailing slash, the
// query string, and any fragment, so equivalent spellings of the same
// endpoint collapse to one row.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// NewRemoteEndpointID mints a provider-shaped id for Remote
// implementations that don't call through to a live account (in-memory
// fakes used by tests and local development).
func NewRemoteEndpointID() string {
	return "we_" + uuid.NewString()
}
