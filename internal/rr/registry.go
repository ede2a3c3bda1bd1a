// Package rr implements the Run Registry: the component that owns the
// Sync Run and Object Run state machines, caching a claim rate limiter
// per account behind a mutex.
package rr

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/time/rate"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/types"
)

// Registry owns the Sync Run / Object Run state machines over a
// Database Gateway, rate-limiting task claims per account.
type Registry struct {
	gateway *dg.Gateway

	claimsPerSecond rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Registry over gateway, capping claimNextTask calls to
// claimsPerSecond for any single account.
func New(gateway *dg.Gateway, claimsPerSecond float64) *Registry {
	if claimsPerSecond <= 0 {
		claimsPerSecond = 50
	}
	return &Registry{
		gateway:         gateway,
		claimsPerSecond: rate.Limit(claimsPerSecond),
		limiters:        make(map[string]*rate.Limiter),
	}
}

func (r *Registry) limiterFor(accountID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(r.claimsPerSecond, 1)
		r.limiters[accountID] = l
	}
	return l
}

// JoinOrCreateRun returns the key of the currently open run for
// (accountID, triggerLabel), creating one (and its full set of pending
// Object Run rows) if none is open. The advisory lock serializes
// concurrent callers for the same pair, so both end up on one run.
func (r *Registry) JoinOrCreateRun(
	ctx context.Context, accountID, triggerLabel string, objectSet []string, createdGTE int64, maxConcurrent int,
) (types.SyncRunKey, error) {
	lockName := "sync-run:" + accountID + ":" + triggerLabel
	var key types.SyncRunKey

	err := r.gateway.WithAdvisoryLock(ctx, lockName, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := r.gateway.FindOpenSyncRun(ctx, accountID, triggerLabel)
		if err != nil {
			return err
		}
		if existing != nil {
			key = *existing
			return nil
		}

		key = types.SyncRunKey{
			AccountID:    accountID,
			StartedAt:    time.Now().Truncate(time.Millisecond),
			TriggerLabel: triggerLabel,
		}
		if err := r.gateway.CreateSyncRun(ctx, tx, key, maxConcurrent); err != nil {
			return err
		}
		return r.gateway.CreateObjectRuns(ctx, tx, key, objectSet, createdGTE)
	})
	return key, err
}

// ClaimNextTask waits for the account's rate limiter and atomically
// claims the lowest-priority pending Object Run under key, or returns
// (nil, nil) if none is currently claimable.
func (r *Registry) ClaimNextTask(ctx context.Context, key types.SyncRunKey, maxConcurrent int) (*dg.ClaimedTask, error) {
	if err := r.limiterFor(key.AccountID).Wait(ctx); err != nil {
		return nil, ekind.New(ekind.Transient, err)
	}
	return r.gateway.ClaimNextTask(ctx, key.AccountID, key.StartedAt, maxConcurrent)
}

// UpdateProgress advances the cursor and page-cursor for an in-flight
// Object Run after a page commits. minCreated is the smallest
// `created` timestamp seen in the page (unix seconds); when it falls
// at or before createdGTE, the slice has crossed its time boundary and
// completes regardless of hasMore.
func (r *Registry) UpdateProgress(
	ctx context.Context, key types.ObjectRunKey, minCreated int64, lastIDInPage string, hasMore bool, pageCount int64,
) error {
	if minCreated <= key.CreatedGTE || !hasMore {
		// The final cursor survives completion so the next incremental
		// run can pick up where this one stopped. An empty final page
		// leaves the previously committed cursor alone.
		cursor := ""
		if minCreated > 0 {
			cursor = cursorFromCreated(minCreated)
		}
		if err := r.gateway.UpdateProgress(ctx, key, cursor, "", pageCount, false); err != nil {
			return err
		}
		return r.gateway.CompleteObjectRun(ctx, key)
	}
	// More pages remain: yield the slice back to pending so the next
	// free worker can claim its continuation.
	return r.gateway.UpdateProgress(ctx, key, cursorFromCreated(minCreated), lastIDInPage, pageCount, true)
}

func cursorFromCreated(created int64) string {
	return strconv.FormatInt(created, 10)
}

// FailObject transitions an Object Run to error with message.
func (r *Registry) FailObject(ctx context.Context, key types.ObjectRunKey, message string) error {
	return r.gateway.FailObjectRun(ctx, key, message)
}

// CompleteObject transitions an Object Run to complete directly, used
// when the fetcher reports there was nothing to page through at all.
func (r *Registry) CompleteObject(ctx context.Context, key types.ObjectRunKey) error {
	return r.gateway.CompleteObjectRun(ctx, key)
}

// CloseRun closes key once every Object Run beneath it has left
// pending/running, returning the final projection. It is a no-op
// (returning the in-progress projection) if work remains.
func (r *Registry) CloseRun(ctx context.Context, key types.SyncRunKey) (*types.RunsSummary, error) {
	return r.gateway.CloseRun(ctx, key)
}

// RunsSummary returns the current projection for key without attempting
// to close it.
func (r *Registry) RunsSummary(ctx context.Context, key types.SyncRunKey) (*types.RunsSummary, error) {
	return r.gateway.RunsSummary(ctx, key)
}

// CancelStale closes every run older than maxAge, marking its
// in-flight Object Runs errored with message "cancelled".
func (r *Registry) CancelStale(ctx context.Context, maxAge time.Duration) (int, error) {
	return r.gateway.CancelStaleRuns(ctx, maxAge)
}

// ReclaimStale resets Object Runs stuck in running for longer than
// olderThan back to pending, the `* --reclaim stale--> pending` edge of
// the Object Run state machine.
func (r *Registry) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return r.gateway.ReclaimStaleObjectRuns(ctx, olderThan)
}
