// Package migrate implements the Migrator: it applies a versioned,
// ordered DDL bundle through goose and tracks applied migrations in an
// internal table. Safe to run concurrently across processes: an
// advisory lock wraps the apply phase.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pressly/goose/v3"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/ident"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrator applies the embedded DDL bundle against a schema, tracking
// applied versions in "<schema>._migrations".
type Migrator struct {
	db     *sql.DB
	schema ident.Schema
}

// New wraps a database/sql handle (goose's API, unlike the rest of the
// sync engine, speaks database/sql rather than pgx) for schema.
func New(db *sql.DB, schema ident.Schema) *Migrator {
	return &Migrator{db: db, schema: schema}
}

// Apply runs every pending migration in the embedded bundle, creating
// the schema first if necessary, and acquiring gateway's advisory lock
// for the duration of the apply phase so concurrent process starts
// don't race on DDL.
func (m *Migrator) Apply(ctx context.Context, gateway *dg.Gateway) error {
	if err := gateway.EnsureCoreSchema(ctx); err != nil {
		return ekind.New(ekind.Fatal, err)
	}

	return gateway.WithAdvisoryLock(ctx, "migrate:"+m.schema.Raw(), func(ctx context.Context, _ pgx.Tx) error {
		return m.applyLocked(ctx)
	})
}

func (m *Migrator) applyLocked(ctx context.Context) error {
	goose.SetBaseFS(migrationFS)
	goose.SetTableName(m.schema.Raw() + "._migrations")
	if err := goose.SetDialect("postgres"); err != nil {
		return ekind.New(ekind.Fatal, err)
	}
	if err := goose.UpContext(ctx, m.db, "migrations"); err != nil {
		return ekind.New(ekind.Fatal, err)
	}
	return nil
}

// EnsureEntityTables materializes one entity table per kind registered
// in registry, each with the standard document shape (account_id, id,
// raw_document, last_synced_at, deleted) and an index on the deletion
// flag for the soft-delete read path. Idempotent; called from the
// migrate command and on startup by the backfill/start paths so a
// fresh database can accept writes for every mirrored kind.
func EnsureEntityTables(ctx context.Context, gateway *dg.Gateway, registry *objectkind.Registry) error {
	schema := registry.Schema()
	return gateway.WithAdvisoryLock(ctx, "migrate-entities:"+schema.Raw(), func(ctx context.Context, tx pgx.Tx) error {
		for _, name := range registry.All() {
			kind, _ := registry.Get(name)
			create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				account_id     TEXT NOT NULL,
				id             TEXT NOT NULL,
				raw_document   JSONB NOT NULL,
				last_synced_at BIGINT NOT NULL DEFAULT 0,
				deleted        BOOLEAN NOT NULL DEFAULT false,
				PRIMARY KEY (account_id, id)
			)`, kind.Table.Raw())
			if _, err := tx.Exec(ctx, create); err != nil {
				return ekind.New(ekind.Fatal, err)
			}
			index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_live
				ON %s (account_id) WHERE NOT deleted`,
				kind.Table.Table().Raw(), kind.Table.Raw())
			if _, err := tx.Exec(ctx, index); err != nil {
				return ekind.New(ekind.Fatal, err)
			}
		}
		return nil
	})
}

// Column describes one column of a table materialized from an external
// schema description.
type Column struct {
	Name     string
	SQLType  string // e.g. "TEXT", "BIGINT", "JSONB"
	Nullable bool
}

// DescribedTable is one table an external schema description asks the
// Migrator to materialize or extend.
type DescribedTable struct {
	Name    string
	Columns []Column
}

// ApplyDescribedTables materializes tables from an external schema
// description: creates any table that doesn't exist yet with
// account_id/id/raw_document/last_synced_at/deleted as its base
// columns, then adds any declared column missing from an existing
// table. Additive only: it never drops or narrows a column.
func (m *Migrator) ApplyDescribedTables(ctx context.Context, gateway *dg.Gateway, tables []DescribedTable) error {
	return gateway.WithAdvisoryLock(ctx, "migrate-described:"+m.schema.Raw(), func(ctx context.Context, tx pgx.Tx) error {
		for _, table := range tables {
			qualified := fmt.Sprintf("%s.%s", m.schema.Raw(), table.Name)

			create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				account_id     TEXT NOT NULL,
				id             TEXT NOT NULL,
				raw_document   JSONB NOT NULL,
				last_synced_at BIGINT NOT NULL DEFAULT 0,
				deleted        BOOLEAN NOT NULL DEFAULT false,
				PRIMARY KEY (account_id, id)
			)`, qualified)
			if _, err := tx.Exec(ctx, create); err != nil {
				return ekind.New(ekind.Fatal, err)
			}

			for _, col := range table.Columns {
				nullability := "NOT NULL"
				if col.Nullable {
					nullability = "NULL"
				}
				alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s %s`,
					qualified, sanitizeIdent(col.Name), col.SQLType, nullability)
				if col.Nullable {
					if _, err := tx.Exec(ctx, alter); err != nil {
						return ekind.New(ekind.Fatal, err)
					}
					continue
				}
				// A NOT NULL column added to a table that may already
				// hold rows needs a default to stay additive; columns
				// declared non-nullable without one are rejected rather
				// than silently narrowing into a migration failure.
				return ekind.Newf(ekind.Configuration,
					"described column %q.%q must be nullable: additive migrations cannot add a bare NOT NULL column to a possibly non-empty table", table.Name, col.Name)
			}
		}
		return nil
	})
}

func sanitizeIdent(name string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, name))
}
