// Package types contains the data types shared by the major functional
// blocks of the sync engine. Keeping them in one package lets the
// gateway, upserter, run registry, fetcher, and workers compose without
// import cycles.
package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/dbashand/stripe-sync-engine/internal/hlc"
)

// Querier is implemented by pgxpool.Pool, pgxpool.Conn, pgxpool.Tx, and
// pgx.Tx. It allows the gateway's helpers to run either directly against
// the pool or inside an already-open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// Account is the tenant identity returned by the provider.
type Account struct {
	ID           string
	RawDocument  json.RawMessage
	APIKeyHashes []string
	LastSyncedAt time.Time
}

// AccountIDFromDocument extracts the `id` field from a raw provider
// document, enforcing the invariant that Account.ID equals it.
func AccountIDFromDocument(raw json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", errors.Wrap(err, "decoding account document")
	}
	if probe.ID == "" {
		return "", errors.New("account document has no id field")
	}
	return probe.ID, nil
}

// Entity is one provider object bound for an entity table.
type Entity struct {
	AccountID    string
	ObjectKind   string // the provider's `object` discriminator
	ID           string
	RawDocument  json.RawMessage
	LastSyncedAt hlc.Time
	Deleted      bool
}

// UpsertOutcome categorizes the result of writing one Entity.
type UpsertOutcome int

const (
	// OutcomeInserted indicates a new row was created.
	OutcomeInserted UpsertOutcome = iota
	// OutcomeUpdated indicates an existing row was overwritten.
	OutcomeUpdated
	// OutcomeSkippedOlder indicates the timestamp guard rejected the
	// write because a newer row was already present.
	OutcomeSkippedOlder
)

// UpsertResult reports the per-row outcome of a batch write.
type UpsertResult struct {
	AccountID  string
	ObjectKind string
	ID         string
	Outcome    UpsertOutcome
}

// ManagedWebhook is a provider-side endpoint the system owns.
type ManagedWebhook struct {
	ID        string
	AccountID string
	URL       string
	Secret    string
	CreatedAt time.Time
}

// RunStatus is the status of an Object Run row.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunError    RunStatus = "error"
)

// SyncRunKey identifies a Sync Run row.
type SyncRunKey struct {
	AccountID    string
	StartedAt    time.Time // millisecond precision, forms the PK with AccountID
	TriggerLabel string
}

// ObjectRunKey identifies an Object Run row.
type ObjectRunKey struct {
	SyncRunKey
	ObjectKind string
	CreatedGTE int64 // unix seconds; 0 means unbounded
}

// ObjectRun is one row of the Object Run table.
type ObjectRun struct {
	ObjectRunKey
	Status         RunStatus
	Cursor         string
	PageCursor     string
	ProcessedCount int64
	ErrorMessage   string
	CompletedAt    *time.Time
	CreatedLTE     int64
}

// RunsSummary is the per-run progress projection: counters by object
// run status plus the run's own closed-at and status.
type RunsSummary struct {
	AccountID string
	StartedAt time.Time
	ClosedAt  *time.Time
	Status    string // running|complete|error|partial
	Total     int
	Pending   int
	Running   int
	Complete  int
	Error     int
}
