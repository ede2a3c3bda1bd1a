// Package eu implements the Entity Upserter: the component that writes
// provider objects to their destination tables under the
// last-writer-wins timestamp guard, de-duplicating each batch by key
// before it reaches the database.
package eu

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/hlc"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
)

// Item is one provider object bound for upsert, keyed by its own kind so
// a mixed batch (e.g. a page of expanded sub-objects) can be grouped by
// destination table before writing.
type Item struct {
	ObjectKind  string
	ID          string
	RawDocument json.RawMessage
	Deleted     bool
}

// Options controls the upsert path's optional behaviors.
type Options struct {
	BackfillRelatedEntities bool
}

// Outcome is the per-row result of a batch write.
type Outcome struct {
	ObjectKind string
	ID         string
	Outcome    string // "updated" (any written row, new or replaced; inserts are not reported separately), "skipped_older", "errored"
	Err        error
}

// Upserter writes batches of provider objects to their destination
// tables, dispatching via the shared object-kind registry rather than a
// local switch statement.
type Upserter struct {
	gateway  *dg.Gateway
	registry *objectkind.Registry

	mu       sync.Mutex
	attempts map[string]int
}

// New constructs an Upserter over gateway, dispatching destination
// tables through registry.
func New(gateway *dg.Gateway, registry *objectkind.Registry) *Upserter {
	return &Upserter{
		gateway:  gateway,
		registry: registry,
		attempts: make(map[string]int),
	}
}

// Upsert writes items to their destination tables, applying the
// timestamp guard, and returns one Outcome per input row in input order.
// lastSyncedAt is the synchronization timestamp attributed to every row
// in this batch (the provider event/list timestamp, not wall-clock
// write time).
func (u *Upserter) Upsert(
	ctx context.Context, accountID string, items []Item, lastSyncedAt hlc.Time, opts Options,
) ([]Outcome, error) {
	deduped := uniqueByKey(items)

	byKind := make(map[string][]Item, len(deduped))
	order := make([]string, 0, 4)
	for _, it := range deduped {
		if _, ok := byKind[it.ObjectKind]; !ok {
			order = append(order, it.ObjectKind)
		}
		byKind[it.ObjectKind] = append(byKind[it.ObjectKind], it)
	}

	var outcomes []Outcome
	for _, kind := range order {
		group := byKind[kind]
		k, ok := u.registry.Get(kind)
		if !ok {
			for _, it := range group {
				outcomes = append(outcomes, Outcome{ObjectKind: kind, ID: it.ID,
					Outcome: "errored", Err: ekind.Newf(ekind.Permanent, "unregistered object kind %q", kind)})
			}
			continue
		}

		group = u.revalidateIfConfigured(ctx, k, group)

		rows := make([]dg.EntityRow, len(group))
		for i, it := range group {
			rows[i] = dg.EntityRow{
				AccountID:    accountID,
				ID:           it.ID,
				RawDocument:  it.RawDocument,
				LastSyncedAt: lastSyncedAt,
				Deleted:      it.Deleted,
			}
		}

		start := time.Now()
		results, err := u.gateway.UpsertEntities(ctx, k.Table, rows)
		upsertDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			upsertRows.WithLabelValues(kind, "errored").Add(float64(len(group)))
			outcomes = append(outcomes, u.handleBatchFailure(accountID, kind, group, err)...)
			continue
		}
		for _, r := range results {
			status := "updated"
			if r.Skipped {
				status = "skipped_older"
			}
			upsertRows.WithLabelValues(kind, status).Inc()
			outcomes = append(outcomes, Outcome{ObjectKind: kind, ID: r.ID, Outcome: status})
		}

		if opts.BackfillRelatedEntities {
			u.enqueueRelated(ctx, accountID, group)
		}
	}
	return outcomes, nil
}

// SoftDelete sets the deleted flag for one row without removing it,
// the write path for *.deleted events.
func (u *Upserter) SoftDelete(ctx context.Context, accountID, objectKind, id string, lastSyncedAt hlc.Time) (skipped bool, err error) {
	k, ok := u.registry.Get(objectKind)
	if !ok {
		return false, ekind.Newf(ekind.Permanent, "unregistered object kind %q", objectKind)
	}
	return u.gateway.SoftDeleteEntity(ctx, k.Table, accountID, id, lastSyncedAt)
}

// handleBatchFailure implements the two-attempt retry-then-DLQ contract:
// a failure caused by a missing parent row is retried once the parent is
// assumed present (the caller re-drives the batch on its own next pass);
// after two failed attempts for the same row it is parked to the DLQ and
// reported as errored rather than retried indefinitely.
func (u *Upserter) handleBatchFailure(accountID, kind string, group []Item, batchErr error) []Outcome {
	out := make([]Outcome, 0, len(group))
	for _, it := range group {
		key := accountID + "/" + kind + "/" + it.ID

		u.mu.Lock()
		u.attempts[key]++
		attempt := u.attempts[key]
		if attempt >= 2 {
			delete(u.attempts, key)
		}
		u.mu.Unlock()

		if attempt >= 2 {
			dlqRows.WithLabelValues(kind).Inc()
			if dlqErr := u.gateway.SendToDLQ(context.Background(), accountID, kind, it.ID, it.RawDocument, batchErr); dlqErr != nil {
				log.WithError(dlqErr).Warn("failed to park row in dead letter queue")
			}
		} else {
			log.WithError(batchErr).WithField("object_kind", kind).WithField("id", it.ID).
				Warn("upsert failed, will retry once parent dependency is present")
		}
		out = append(out, Outcome{ObjectKind: kind, ID: it.ID, Outcome: "errored", Err: batchErr})
	}
	return out
}

// revalidateIfConfigured replaces each item's raw document with the
// provider's authoritative current copy when the kind opts into
// revalidate-via-provider, instead of trusting the payload that
// arrived with the batch.
func (u *Upserter) revalidateIfConfigured(ctx context.Context, k *objectkind.Kind, group []Item) []Item {
	if !k.RevalidateViaProvider || k.Revalidator == nil {
		return group
	}
	out := make([]Item, len(group))
	for i, it := range group {
		fresh, err := k.Revalidator.Revalidate(ctx, it.ID)
		if err != nil {
			log.WithError(err).WithField("object_kind", k.Name).WithField("id", it.ID).
				Warn("revalidate-via-provider fetch failed, keeping original payload")
			out[i] = it
			continue
		}
		raw, err := json.Marshal(fresh)
		if err != nil {
			out[i] = it
			continue
		}
		it.RawDocument = raw
		out[i] = it
	}
	return out
}

// enqueueRelated scans each document for nested objects of other kinds
// not yet present in the store, fetches each one from the provider and
// writes it immediately, bounded to depth 1 to prevent fan-out storms:
// it does not recurse into whatever related entities turn up.
func (u *Upserter) enqueueRelated(ctx context.Context, accountID string, group []Item) {
	for _, it := range group {
		refs := extractEmbeddedObjects(it.RawDocument)
		for _, ref := range refs {
			k, ok := u.registry.Get(ref.ObjectKind)
			if !ok {
				continue
			}
			if _, found, err := u.gateway.GetEntityLastSynced(ctx, k.Table, accountID, ref.ID); err == nil && found {
				continue
			}
			if k.Revalidator == nil {
				continue
			}
			fresh, err := k.Revalidator.Revalidate(ctx, ref.ID)
			if err != nil {
				log.WithError(err).WithField("object_kind", ref.ObjectKind).WithField("id", ref.ID).
					Warn("related-entity backfill fetch failed")
				continue
			}
			raw, err := json.Marshal(fresh)
			if err != nil {
				continue
			}
			if _, err := u.gateway.UpsertEntities(ctx, k.Table, []dg.EntityRow{{
				AccountID: accountID, ID: ref.ID, RawDocument: raw, LastSyncedAt: hlc.New(0, 0),
			}}); err != nil {
				log.WithError(err).Warn("related-entity backfill write failed")
			}
		}
	}
}

type embeddedRef struct {
	ObjectKind string
	ID         string
}

// extractEmbeddedObjects walks one level of a document's top-level
// fields, picking out any nested object that itself looks like a
// provider object (has both "id" and "object" string fields).
func extractEmbeddedObjects(raw json.RawMessage) []embeddedRef {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	var refs []embeddedRef
	for _, v := range doc {
		var probe struct {
			ID     string `json:"id"`
			Object string `json:"object"`
		}
		if err := json.Unmarshal(v, &probe); err != nil {
			continue
		}
		if probe.ID != "" && probe.Object != "" {
			refs = append(refs, embeddedRef{ObjectKind: probe.Object, ID: probe.ID})
		}
	}
	return refs
}

// uniqueByKey removes duplicate keys from a batch, last one wins:
// iterate backwards, keep the first (i.e. latest in original order)
// occurrence of each (ObjectKind, ID) pair, and compact.
func uniqueByKey(items []Item) []Item {
	seenIdx := make(map[string]int, len(items))
	dest := len(items)
	x := make([]Item, len(items))
	copy(x, items)

	for src := len(x) - 1; src >= 0; src-- {
		key := x[src].ObjectKind + "/" + x[src].ID
		if _, found := seenIdx[key]; found {
			continue // a later occurrence in the original batch already claimed this key
		}
		dest--
		seenIdx[key] = dest
		x[dest] = x[src]
	}
	return x[dest:]
}
