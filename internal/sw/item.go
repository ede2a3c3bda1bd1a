package sw

import (
	"encoding/json"

	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/hlc"
)

// itemFromRaw converts one raw provider document from a list page into
// an eu.Item bound for upsert. The document's own "object" field wins
// over the kind the task was claimed for, so a page carrying expanded
// sub-objects still routes each row to its proper table.
func itemFromRaw(kind string, raw map[string]any) eu.Item {
	it := eu.Item{ObjectKind: kind}
	if obj, ok := raw["object"].(string); ok && obj != "" {
		it.ObjectKind = obj
	}
	if id, ok := raw["id"].(string); ok {
		it.ID = id
	}
	if deleted, ok := raw["deleted"].(bool); ok {
		it.Deleted = deleted
	}
	doc, err := json.Marshal(raw)
	if err == nil {
		it.RawDocument = doc
	}
	return it
}

// latestTimestamp returns the newest "created" value in the page as a
// millisecond write timestamp. Rows written from a list page share one
// synchronization timestamp; the newest in the page keeps re-running a
// backfill idempotent without letting any row move backwards.
func latestTimestamp(items []map[string]any) hlc.Time {
	var max int64
	for _, it := range items {
		c, ok := it["created"].(float64)
		if !ok {
			continue
		}
		if v := int64(c); v > max {
			max = v
		}
	}
	return hlc.New(max*1000, 0)
}
