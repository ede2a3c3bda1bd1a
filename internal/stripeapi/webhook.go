package stripeapi

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v81"

	"github.com/dbashand/stripe-sync-engine/internal/wm"
)

// WebhookRemote implements wm.Remote against the provider's real
// webhook endpoint API.
type WebhookRemote struct {
	Client *Client
}

func (r WebhookRemote) Get(ctx context.Context, id string) (*wm.RemoteEndpoint, error) {
	params := &stripe.WebhookEndpointParams{}
	params.Context = ctx
	ep, err := r.Client.API.WebhookEndpoints.Get(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &wm.RemoteEndpoint{ID: ep.ID, URL: ep.URL, Secret: ep.Secret}, nil
}

func (r WebhookRemote) Create(ctx context.Context, url string, events []string) (*wm.RemoteEndpoint, error) {
	params := &stripe.WebhookEndpointParams{
		URL:           stripe.String(url),
		EnabledEvents: stripe.StringSlice(events),
	}
	params.Context = ctx
	ep, err := r.Client.API.WebhookEndpoints.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &wm.RemoteEndpoint{ID: ep.ID, URL: ep.URL, Secret: ep.Secret}, nil
}

func (r WebhookRemote) Delete(ctx context.Context, id string) error {
	params := &stripe.WebhookEndpointParams{}
	params.Context = ctx
	if _, err := r.Client.API.WebhookEndpoints.Del(id, params); err != nil {
		// classify maps resource_missing to NotFound, which callers
		// deleting an already-gone endpoint tolerate.
		return classify(err)
	}
	return nil
}

var _ wm.Remote = WebhookRemote{}
