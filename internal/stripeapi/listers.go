package stripeapi

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v81"

	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
)

// commonParams builds the ListParams shared by every list endpoint:
// page size, starting_after cursor, and (when the kind supports it) a
// created range filter.
func commonParams(opts objectkind.ListOptions, supportsCreatedFilter bool) (stripe.ListParams, *stripe.RangeQueryParams) {
	lp := stripe.ListParams{}
	if opts.PageSize > 0 {
		lp.Limit = stripe.Int64(int64(opts.PageSize))
	}
	if opts.StartingAfter != "" {
		lp.StartingAfter = stripe.String(opts.StartingAfter)
	}

	var created *stripe.RangeQueryParams
	if supportsCreatedFilter && (opts.CreatedGTE != 0 || opts.CreatedLTE != 0) {
		created = &stripe.RangeQueryParams{}
		if opts.CreatedGTE != 0 {
			created.GreaterThanOrEqual = opts.CreatedGTE
		}
		if opts.CreatedLTE != 0 {
			created.LesserThanOrEqual = opts.CreatedLTE
		}
	}
	return lp, created
}

// toRawItems marshals a batch of typed stripe-go objects back to
// map[string]any so the rest of the pipeline stays in terms of the
// provider's generic JSON document; the raw document, not the SDK's
// per-kind Go type, is the source of truth.
func toRawItems(objs []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(objs))
	for _, obj := range objs {
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}


// pageLimit bounds how many items a single List call consumes from the
// SDK's iterator. The iterator transparently fetches follow-up pages;
// stopping at the page size keeps one call one page, so the mid-page
// continuation cursor the caller persists stays meaningful.
func pageLimit(opts objectkind.ListOptions) int {
	if opts.PageSize > 0 {
		return opts.PageSize
	}
	return 100
}

// CustomerLister pages through /v1/customers.
type CustomerLister struct{ Client *Client }

func (l CustomerLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.CustomerListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Customers.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Customer())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.CustomerList().ListMeta)
}

// ProductLister pages through /v1/products.
type ProductLister struct{ Client *Client }

func (l ProductLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.ProductListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Products.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Product())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.ProductList().ListMeta)
}

// PriceLister pages through /v1/prices.
type PriceLister struct{ Client *Client }

func (l PriceLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.PriceListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Prices.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Price())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.PriceList().ListMeta)
}

// SubscriptionLister pages through /v1/subscriptions.
type SubscriptionLister struct{ Client *Client }

func (l SubscriptionLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.SubscriptionListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Subscriptions.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.SubscriptionList().ListMeta)
}

// InvoiceLister pages through /v1/invoices.
type InvoiceLister struct{ Client *Client }

func (l InvoiceLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.InvoiceListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Invoices.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.InvoiceList().ListMeta)
}

// ChargeLister pages through /v1/charges.
type ChargeLister struct{ Client *Client }

func (l ChargeLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.ChargeListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Charges.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Charge())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.ChargeList().ListMeta)
}

// PaymentIntentLister pages through /v1/payment_intents.
type PaymentIntentLister struct{ Client *Client }

func (l PaymentIntentLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.PaymentIntentListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.PaymentIntents.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.PaymentIntent())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.PaymentIntentList().ListMeta)
}

// RefundLister pages through /v1/refunds.
type RefundLister struct{ Client *Client }

func (l RefundLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, created := commonParams(opts, true)
	params := &stripe.RefundListParams{ListParams: lp, CreatedRange: created}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Refunds.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Refund())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.RefundList().ListMeta)
}

// DisputeLister pages through /v1/disputes. Disputes do not support a
// created range filter in the Stripe API, so this kind is registered
// without one and relies on starting_after pagination alone.
type DisputeLister struct{ Client *Client }

func (l DisputeLister) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	lp, _ := commonParams(opts, false)
	params := &stripe.DisputeListParams{ListParams: lp}
	params.Context = ctx

	var objs []any
	iter := l.Client.API.Disputes.List(params)
	limit := pageLimit(opts)
	for len(objs) < limit && iter.Next() {
		objs = append(objs, iter.Dispute())
	}
	if err := iter.Err(); err != nil {
		return objectkind.ListPage{}, classify(err)
	}
	return pageFrom(objs, iter.DisputeList().ListMeta)
}

func pageFrom(objs []any, meta stripe.ListMeta) (objectkind.ListPage, error) {
	items, err := toRawItems(objs)
	if err != nil {
		return objectkind.ListPage{}, err
	}
	var lastID string
	if len(items) > 0 {
		if id, ok := items[len(items)-1]["id"].(string); ok {
			lastID = id
		}
	}
	return objectkind.ListPage{Items: items, HasMore: meta.HasMore, LastID: lastID}, nil
}
