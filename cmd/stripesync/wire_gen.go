// Hand-maintained in the layout of Wire's generated output; Wire does not
// produce this file.

//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ep"
	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/ident"
	"github.com/dbashand/stripe-sync-engine/internal/ingress"
	"github.com/dbashand/stripe-sync-engine/internal/lf"
	"github.com/dbashand/stripe-sync-engine/internal/migrate"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
	"github.com/dbashand/stripe-sync-engine/internal/rr"
	"github.com/dbashand/stripe-sync-engine/internal/stdpool"
	"github.com/dbashand/stripe-sync-engine/internal/stripeapi"
	"github.com/dbashand/stripe-sync-engine/internal/util/diag"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
	"github.com/dbashand/stripe-sync-engine/internal/wm"
	_ "github.com/lib/pq"
)

// Injectors from injector.go:

// newEngine assembles the full sync engine from config.
func newEngine(ctx *stopper.Context, config *Config) (*engine, func(), error) {
	diagnostics, cleanup := diag.New(ctx)
	pool, cleanup2, err := stdpool.Open(ctx, config.DatabaseURL,
		stdpool.WithPoolSize(int32(config.MaxConns)),
		stdpool.WithStatementTimeout(config.StatementTimeout),
		stdpool.WithDiagnostics(diagnostics, "pool"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	schema := ident.NewSchema(config.SchemaName)
	gateway := dg.New(pool, schema, config.StatementTimeout)
	registry := objectkind.New(schema)
	client := stripeapi.NewClient(config.StripeKey)
	stripeapi.RegisterDefaultKinds(registry, client)
	if config.RevalidateViaAPI {
		for _, name := range registry.All() {
			if kind, _ := registry.Get(name); kind.Revalidator != nil {
				kind.RevalidateViaProvider = true
			}
		}
	}
	runRegistry := rr.New(gateway, config.ClaimsPerSecond)
	fetcher := lf.New(registry)
	upserter := eu.New(gateway, registry)
	tenants, cleanup3, err := provideTenants(config, gateway)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	processor := ep.New(upserter, provideSecretLookup(config, tenants))
	webhooks := wm.New(gateway, stripeapi.WebhookRemote{Client: client})
	server := ingress.New(ingress.Config{WebhookPath: config.WebhookPath}, tenants, processor, diagnostics)
	e := &engine{
		Config:     config,
		Diags:      diagnostics,
		Pool:       pool,
		Schema:     schema,
		Gateway:    gateway,
		Kinds:      registry,
		Stripe:     client,
		Runs:       runRegistry,
		Fetcher:    fetcher,
		Upserter:   upserter,
		Processor:  processor,
		Webhooks:   webhooks,
		Ingress:    server,
		Tenants:    tenants,
		APIKeyHash: hashKey(config.StripeKey),
	}
	return e, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// newMigrator assembles just enough to run schema migrations.
func newMigrator(ctx *stopper.Context, config *Config) (*migrate.Migrator, *dg.Gateway, func(), error) {
	diagnostics, cleanup := diag.New(ctx)
	pool, cleanup2, err := stdpool.Open(ctx, config.DatabaseURL,
		stdpool.WithPoolSize(int32(config.MaxConns)),
		stdpool.WithStatementTimeout(time.Minute),
		stdpool.WithDiagnostics(diagnostics, "pool"))
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	schema := ident.NewSchema(config.SchemaName)
	gateway := dg.New(pool, schema, time.Minute)
	db, cleanup3, err := provideLegacyDB(config)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, nil, err
	}
	migrator := migrate.New(db, schema)
	return migrator, gateway, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// provideLegacyDB opens a database/sql handle over the same DSN for
// tooling that does not speak the binary protocol (the migration
// runner).
func provideLegacyDB(config *Config) (*sql.DB, func(), error) {
	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

// provideTenants picks the routing table implementation: the static
// JSON document when configured, the merchants table otherwise.
func provideTenants(config *Config, gateway *dg.Gateway) (ingress.Tenants, func(), error) {
	if config.MerchantConfigJSON != "" {
		tenants, err := ingress.ParseMerchantConfig(config.MerchantConfigJSON)
		if err != nil {
			return nil, nil, err
		}
		return tenants, func() {}, nil
	}
	return &ingress.GatewayTenants{Gateway: gateway}, func() {}, nil
}

// provideSecretLookup resolves signing secrets for the Event Processor.
// A statically configured webhook secret wins; otherwise secrets come
// from the tenant routing table.
func provideSecretLookup(config *Config, tenants ingress.Tenants) ep.SecretLookup {
	if config.WebhookSecret != "" {
		secret := config.WebhookSecret
		return func(ctx context.Context, accountID string) (string, error) {
			return secret, nil
		}
	}
	return tenants.SecretForAccount
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
