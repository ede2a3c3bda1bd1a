package dg

import (
	"context"
	"fmt"

	"github.com/dbashand/stripe-sync-engine/internal/ident"
)

// sprintfSchema substitutes the schema name into a %[1]s-templated
// query.
func sprintfSchema(template string, schema ident.Schema) string {
	return fmt.Sprintf(template, schema.Raw())
}

// coreDDL creates the run-tracking tables the gateway itself owns.
// Entity tables (one per registered object kind) are materialized by
// migrate.EnsureEntityTables and by the embedded migration bundle.
const coreDDL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.accounts (
  id              TEXT PRIMARY KEY,
  raw_document    JSONB NOT NULL,
  api_key_hashes  TEXT[] NOT NULL DEFAULT '{}',
  last_synced_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.sync_runs (
  account_id      TEXT NOT NULL,
  started_at      TIMESTAMPTZ NOT NULL,
  trigger_label   TEXT NOT NULL,
  closed_at       TIMESTAMPTZ,
  status          TEXT NOT NULL DEFAULT 'running',
  max_concurrent  INT NOT NULL DEFAULT 5,
  PRIMARY KEY (account_id, started_at)
);

CREATE UNIQUE INDEX IF NOT EXISTS sync_runs_single_open
  ON %[1]s.sync_runs (account_id, trigger_label)
  WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS %[1]s.object_runs (
  account_id      TEXT NOT NULL,
  run_started_at  TIMESTAMPTZ NOT NULL,
  object_kind     TEXT NOT NULL,
  created_gte     BIGINT NOT NULL DEFAULT 0,
  status          TEXT NOT NULL DEFAULT 'pending',
  cursor          TEXT,
  page_cursor     TEXT,
  created_lte     BIGINT,
  processed_count BIGINT NOT NULL DEFAULT 0,
  error_message   TEXT,
  completed_at    TIMESTAMPTZ,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (account_id, run_started_at, object_kind, created_gte),
  FOREIGN KEY (account_id, run_started_at)
    REFERENCES %[1]s.sync_runs (account_id, started_at)
);

CREATE INDEX IF NOT EXISTS object_runs_pending
  ON %[1]s.object_runs (account_id, run_started_at, status);

CREATE TABLE IF NOT EXISTS %[1]s.managed_webhooks (
  id          TEXT PRIMARY KEY,
  account_id  TEXT NOT NULL,
  url         TEXT NOT NULL,
  secret      TEXT NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS managed_webhooks_by_url
  ON %[1]s.managed_webhooks (account_id, url);

CREATE TABLE IF NOT EXISTS %[1]s.cursors (
  account_id  TEXT NOT NULL,
  object_kind TEXT NOT NULL,
  cursor      TEXT NOT NULL,
  PRIMARY KEY (account_id, object_kind)
);

CREATE TABLE IF NOT EXISTS %[1]s.sync_dlq (
  id            BIGSERIAL PRIMARY KEY,
  account_id    TEXT NOT NULL,
  object_kind   TEXT NOT NULL,
  provider_id   TEXT NOT NULL,
  raw_document  JSONB,
  error_message TEXT NOT NULL,
  attempt_count INT NOT NULL DEFAULT 1,
  first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_seen_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS sync_dlq_by_object
  ON %[1]s.sync_dlq (account_id, object_kind, provider_id);

CREATE TABLE IF NOT EXISTS %[1]s.merchants (
  host            TEXT PRIMARY KEY,
  account_id      TEXT NOT NULL,
  webhook_secret  TEXT NOT NULL
);
`

// EnsureCoreSchema creates the tables the gateway owns if they do not already
// exist. It is idempotent and safe to call from every process on
// startup; internal/migrate additionally tracks this (and entity-table
// DDL) through goose for environments that want versioned migrations
// instead of this bootstrap path.
func (g *Gateway) EnsureCoreSchema(ctx context.Context) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	_, err := g.pool.Exec(ctx, sprintfSchema(coreDDL, g.schema))
	return classify(err)
}
