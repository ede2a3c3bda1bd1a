// Package dg is the Database Gateway: the only component that mutates
// rows in the sync engine's Postgres store. It owns pooled access,
// transaction scopes, advisory locks, the guarded entity upsert, and
// the claim/sweep operations over sync runs.
package dg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"github.com/dbashand/stripe-sync-engine/internal/ident"
)

// Gateway is the pooled connection to the sync engine's store.
type Gateway struct {
	pool             *pgxpool.Pool
	schema           ident.Schema
	statementTimeout time.Duration
}

// New wraps an already-open pgxpool.Pool.
func New(pool *pgxpool.Pool, schema ident.Schema, statementTimeout time.Duration) *Gateway {
	if statementTimeout == 0 {
		statementTimeout = 10 * time.Second
	}
	return &Gateway{pool: pool, schema: schema, statementTimeout: statementTimeout}
}

// Schema returns the logical namespace this Gateway is rooted at.
func (g *Gateway) Schema() ident.Schema { return g.schema }

// Pool exposes the underlying pool for collaborators that need raw
// access.
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

// withTimeout bounds a single gateway operation.
func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.statementTimeout)
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back automatically on error or panic, matching the contract "transaction
// scopes with automatic rollback on failure."
func (g *Gateway) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = classify(tx.Commit(ctx))
	}()

	err = fn(ctx, tx)
	return err
}

// AdvisoryLock acquires a transactional advisory lock keyed by name,
// released automatically on commit/rollback.
func (g *Gateway) AdvisoryLock(ctx context.Context, tx pgx.Tx, name string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name)
	return classify(err)
}

// WithAdvisoryLock runs fn inside a transaction holding the named
// advisory lock for its duration, used around sync-run create and
// webhook reconcile.
func (g *Gateway) WithAdvisoryLock(
	ctx context.Context, name string, fn func(ctx context.Context, tx pgx.Tx) error,
) error {
	return g.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := g.AdvisoryLock(ctx, tx, name); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func logOpFailure(op string, err error) {
	log.WithError(err).WithField("op", op).Warn("database operation failed")
}
