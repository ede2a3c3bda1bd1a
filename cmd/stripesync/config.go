package main

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config contains the user-visible configuration for the sync engine.
// Every value can be set by flag; most can also come from the
// environment, with the flag winning when both are present.
type Config struct {
	DatabaseURL      string
	SchemaName       string
	MaxConns         int
	StatementTimeout time.Duration

	StripeKey        string
	StripeAPIVersion string
	WebhookSecret    string

	BindAddr    string
	WebhookPath string
	PublicURL   string

	NgrokToken         string
	UseWebsocket       bool
	LiveStreamURL      string
	MerchantConfigJSON string

	NumWorkers      int
	MaxConcurrent   int
	ClaimsPerSecond float64
	RunMaxAge       time.Duration

	BackfillRelatedEntities bool
	RevalidateViaAPI        bool
	AutoExpandLists         bool
	EnableSigma             bool
	SkipBackfill            bool
	DisableMigrations       bool
	KeepWebhooksOnShutdown  bool
}

// Bind registers flags. Defaults are drawn from the environment so that
// container deployments configure the process without a flag line.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(
		&c.DatabaseURL,
		"database-url",
		os.Getenv("DATABASE_URL"),
		"connection string for the database the catalog is mirrored into")
	flags.StringVar(
		&c.SchemaName,
		"schema",
		envOr("SCHEMA_NAME", "stripe"),
		"the schema the mirrored tables live in")
	flags.IntVar(
		&c.MaxConns,
		"max-connections",
		envInt("MAX_POSTGRES_CONNECTIONS", 10),
		"maximum size of the database connection pool")
	flags.DurationVar(
		&c.StatementTimeout,
		"statement-timeout",
		10*time.Second,
		"per-statement timeout for database operations")

	flags.StringVar(
		&c.StripeKey,
		"stripe-key",
		os.Getenv("STRIPE_SECRET_KEY"),
		"secret key used to authenticate against the payment provider")
	flags.StringVar(
		&c.StripeAPIVersion,
		"stripe-api-version",
		os.Getenv("STRIPE_API_VERSION"),
		"provider API version; accepted into configuration but not applied, requests use the SDK's own pinned version")
	flags.StringVar(
		&c.WebhookSecret,
		"webhook-secret",
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
		"signing secret for incoming webhook events; created endpoints supply their own")

	flags.StringVar(
		&c.BindAddr,
		"bind-addr",
		envOr("BIND_ADDR", ":8080"),
		"the network address the webhook receiver binds to")
	flags.StringVar(
		&c.WebhookPath,
		"webhook-path",
		envOr("WEBHOOK_PATH", "/webhooks"),
		"the path incoming events are posted to")
	flags.StringVar(
		&c.PublicURL,
		"public-url",
		os.Getenv("PUBLIC_URL"),
		"externally reachable base URL; when set, a managed webhook endpoint is reconciled against it")

	flags.StringVar(
		&c.NgrokToken,
		"ngrok-token",
		os.Getenv("NGROK_AUTH_TOKEN"),
		"tunnel auth token; accepted into configuration, no tunnel is provisioned by this binary")
	flags.BoolVar(
		&c.UseWebsocket,
		"use-websocket",
		envBool("USE_WEBSOCKET"),
		"receive events over a live duplex stream instead of inbound HTTP")
	flags.StringVar(
		&c.LiveStreamURL,
		"live-stream-url",
		os.Getenv("LIVE_STREAM_URL"),
		"endpoint for the live event stream")
	flags.StringVar(
		&c.MerchantConfigJSON,
		"merchant-config",
		os.Getenv("MERCHANT_CONFIG_JSON"),
		"static host-to-merchant routing table as a JSON object; replaces the merchants table when set")

	flags.IntVar(
		&c.NumWorkers,
		"workers",
		envInt("NUM_WORKERS", 4),
		"number of cooperative sync workers")
	flags.IntVar(
		&c.MaxConcurrent,
		"max-concurrent",
		envInt("MAX_CONCURRENT", 5),
		"maximum object runs processed at once within a sync run")
	flags.Float64Var(
		&c.ClaimsPerSecond,
		"claims-per-second",
		50,
		"rate limit on task claims, applied per account; claims for different accounts are limited separately")
	flags.DurationVar(
		&c.RunMaxAge,
		"run-max-age",
		6*time.Hour,
		"sync runs older than this self-cancel on the next sweep")

	flags.BoolVar(
		&c.BackfillRelatedEntities,
		"backfill-related-entities",
		envBool("BACKFILL_RELATED_ENTITIES"),
		"accepted into configuration but has no effect: the event path always fetches referenced entities missing from the store, and bulk backfill never does")
	flags.BoolVar(
		&c.RevalidateViaAPI,
		"revalidate-via-api",
		envBool("REVALIDATE_OBJECTS_VIA_STRIPE_API"),
		"fetch the authoritative document from the provider instead of trusting event payloads")
	flags.BoolVar(
		&c.AutoExpandLists,
		"auto-expand-lists",
		envBool("AUTO_EXPAND_LISTS"),
		"accepted into configuration; no expansion of nested list fields is requested when fetching documents")
	flags.BoolVar(
		&c.EnableSigma,
		"enable-sigma",
		envBool("ENABLE_SIGMA"),
		"accepted into configuration; no reporting-only object kinds are registered, so the sync set is the same either way")
	flags.BoolVar(
		&c.SkipBackfill,
		"skip-backfill",
		envBool("SKIP_BACKFILL"),
		"serve events without running the initial backfill")
	flags.BoolVar(
		&c.DisableMigrations,
		"disable-migrations",
		envBool("DISABLE_MIGRATIONS"),
		"do not apply schema migrations on startup")
	flags.BoolVar(
		&c.KeepWebhooksOnShutdown,
		"keep-webhooks-on-shutdown",
		envBool("KEEP_WEBHOOKS_ON_SHUTDOWN"),
		"leave managed webhook endpoints in place when the process exits")
}

// Preflight validates the configuration before any connection is
// opened.
func (c *Config) Preflight() error {
	if c.DatabaseURL == "" {
		return errors.New("no database URL configured; set --database-url or DATABASE_URL")
	}
	if c.SchemaName == "" {
		return errors.New("schema name unset")
	}
	if c.MaxConns <= 0 {
		return errors.New("max-connections must be positive")
	}
	if c.NumWorkers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.UseWebsocket && c.LiveStreamURL == "" {
		return errors.New("use-websocket requires live-stream-url")
	}
	return nil
}

// requireStripeKey is a second preflight stage for commands that talk
// to the provider; migrate does not need a key.
func (c *Config) requireStripeKey() error {
	if c.StripeKey == "" {
		return errors.New("no provider key configured; set --stripe-key or STRIPE_SECRET_KEY")
	}
	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(name string) bool {
	v, err := strconv.ParseBool(os.Getenv(name))
	return err == nil && v
}
