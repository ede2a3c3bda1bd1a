// Package stdpool creates the standardized pgxpool connection the rest
// of the sync engine depends on: one store, with lifetime, size, and
// per-statement timeout options applied uniformly.
package stdpool

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dbashand/stripe-sync-engine/internal/util/diag"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
)

// Option configures the pool constructed by Open.
type Option func(*options)

type options struct {
	connLifetime     time.Duration
	poolSize         int32
	statementTimeout time.Duration
	diags            *diag.Diagnostics
	diagName         string
}

// WithConnectionLifetime bounds how long a pooled connection may live.
func WithConnectionLifetime(d time.Duration) Option {
	return func(o *options) { o.connLifetime = d }
}

// WithPoolSize bounds the maximum number of open connections.
func WithPoolSize(n int32) Option {
	return func(o *options) { o.poolSize = n }
}

// WithStatementTimeout attaches a server-side per-statement timeout to
// every connection in the pool.
func WithStatementTimeout(d time.Duration) Option {
	return func(o *options) { o.statementTimeout = d }
}

// WithDiagnostics registers a liveness probe for the pool under name.
func WithDiagnostics(d *diag.Diagnostics, name string) Option {
	return func(o *options) { o.diags = d; o.diagName = name }
}

// Open creates a pgxpool.Pool bound to connString, applying the given
// options, and arranges for the pool to be closed when ctx is stopped.
func Open(ctx *stopper.Context, connString string, opts ...Option) (*pgxpool.Pool, func(), error) {
	o := &options{
		connLifetime:     5 * time.Minute,
		poolSize:         10,
		statementTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing connection string")
	}
	cfg.MaxConnLifetime = o.connLifetime
	cfg.MaxConns = o.poolSize
	if o.statementTimeout > 0 {
		cfg.ConnConfig.RuntimeParams["statement_timeout"] =
			durationToMillisString(o.statementTimeout)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "could not ping the database")
	}

	if o.diags != nil {
		if err := o.diags.Register(o.diagName, func(ctx context.Context) error {
			return pool.Ping(ctx)
		}); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		pool.Close()
		return nil
	})

	log.WithField("pool", o.diagName).Info("database connection pool ready")

	return pool, pool.Close, nil
}

func durationToMillisString(d time.Duration) string {
	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
