package stripeapi

import (
	"context"
	"encoding/json"
)

// revalidate marshals a freshly fetched object back to a generic
// map[string]any, mirroring toRawItems' treatment of list responses so
// a revalidated row and a listed row look identical downstream.
func revalidate(obj any, err error) (map[string]any, error) {
	if err != nil {
		return nil, classify(err)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// CustomerRevalidator fetches the authoritative current customer, used
// when REVALIDATE_OBJECTS_VIA_STRIPE_API is enabled for "customer".
type CustomerRevalidator struct{ Client *Client }

func (r CustomerRevalidator) Revalidate(ctx context.Context, id string) (map[string]any, error) {
	obj, err := r.Client.API.Customers.Get(id, nil)
	return revalidate(obj, err)
}

// SubscriptionRevalidator fetches the authoritative current subscription.
// Subscriptions are registered with RevalidateViaProvider by default
// (registry.go) because their status/billing fields can drift between
// the payload an event carries and the provider's current state more
// than other kinds.
type SubscriptionRevalidator struct{ Client *Client }

func (r SubscriptionRevalidator) Revalidate(ctx context.Context, id string) (map[string]any, error) {
	obj, err := r.Client.API.Subscriptions.Get(id, nil)
	return revalidate(obj, err)
}

// InvoiceRevalidator fetches the authoritative current invoice.
type InvoiceRevalidator struct{ Client *Client }

func (r InvoiceRevalidator) Revalidate(ctx context.Context, id string) (map[string]any, error) {
	obj, err := r.Client.API.Invoices.Get(id, nil)
	return revalidate(obj, err)
}

// ChargeRevalidator fetches the authoritative current charge, used by
// the related-entity backfill hook when an event references a charge
// not yet present in the store.
type ChargeRevalidator struct{ Client *Client }

func (r ChargeRevalidator) Revalidate(ctx context.Context, id string) (map[string]any, error) {
	obj, err := r.Client.API.Charges.Get(id, nil)
	return revalidate(obj, err)
}

// ProductRevalidator fetches the authoritative current product, used by
// the related-entity backfill hook when a price references a product
// not yet present in the store.
type ProductRevalidator struct{ Client *Client }

func (r ProductRevalidator) Revalidate(ctx context.Context, id string) (map[string]any, error) {
	obj, err := r.Client.API.Products.Get(id, nil)
	return revalidate(obj, err)
}
