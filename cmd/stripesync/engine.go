package main

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ep"
	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/ident"
	"github.com/dbashand/stripe-sync-engine/internal/ingress"
	"github.com/dbashand/stripe-sync-engine/internal/lf"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
	"github.com/dbashand/stripe-sync-engine/internal/rr"
	"github.com/dbashand/stripe-sync-engine/internal/stripeapi"
	"github.com/dbashand/stripe-sync-engine/internal/util/diag"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
	"github.com/dbashand/stripe-sync-engine/internal/wm"
)

// engine bundles the assembled components a command drives.
type engine struct {
	Config     *Config
	Diags      *diag.Diagnostics
	Pool       *pgxpool.Pool
	Schema     ident.Schema
	Gateway    *dg.Gateway
	Kinds      *objectkind.Registry
	Stripe     *stripeapi.Client
	Runs       *rr.Registry
	Fetcher    *lf.Fetcher
	Upserter   *eu.Upserter
	Processor  *ep.Processor
	Webhooks   *wm.Manager
	Ingress    *ingress.Server
	Tenants    ingress.Tenants
	APIKeyHash string
}

// ensureAccount fetches the authenticated account from the provider and
// creates or refreshes its row, returning the account id the rest of
// the command operates under.
func (e *engine) ensureAccount(ctx *stopper.Context) (string, error) {
	id, raw, err := e.Stripe.GetAuthenticatedAccount(ctx)
	if err != nil {
		return "", err
	}
	if err := e.Gateway.UpsertAccount(ctx, id, raw, e.APIKeyHash); err != nil {
		return "", err
	}
	return id, nil
}
