package sw

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/hlc"
	"github.com/dbashand/stripe-sync-engine/internal/lf"
	"github.com/dbashand/stripe-sync-engine/internal/types"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
)

// memorySource drives the pool against an in-memory Object Run table:
// one row per kind, paged by a cursor over seeded items.
type memorySource struct {
	mu       sync.Mutex
	tasks    []dg.ClaimedTask
	progress []progressCall
	failures map[string]string
}

type progressCall struct {
	kind       string
	minCreated int64
	lastID     string
	hasMore    bool
}

func (s *memorySource) ClaimNextTask(_ context.Context, _ types.SyncRunKey, _ int) (*dg.ClaimedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil, nil
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return &task, nil
}

func (s *memorySource) UpdateProgress(_ context.Context, key types.ObjectRunKey, minCreated int64, lastID string, hasMore bool, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progressCall{
		kind: key.ObjectKind, minCreated: minCreated, lastID: lastID, hasMore: hasMore,
	})
	if hasMore && minCreated > key.CreatedGTE {
		// Requeue the continuation the way the claim query would
		// surface it on the next poll.
		s.tasks = append(s.tasks, dg.ClaimedTask{
			AccountID:  key.AccountID,
			StartedAt:  key.StartedAt,
			ObjectKind: key.ObjectKind,
			CreatedGTE: key.CreatedGTE,
			Cursor:     strconv.FormatInt(minCreated, 10),
			PageCursor: lastID,
		})
	}
	return nil
}

func (s *memorySource) FailObject(_ context.Context, key types.ObjectRunKey, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures == nil {
		s.failures = make(map[string]string)
	}
	s.failures[key.ObjectKind] = message
	return nil
}

// pagedFetcher slices seeded items into fixed pages, newest first,
// honoring the created.lte cursor the same way a list endpoint would.
type pagedFetcher struct {
	itemsByKind map[string][]map[string]any
	pageSize    int
}

func (f *pagedFetcher) FetchPage(_ context.Context, kind, cursor, pageCursor string, _, _ int64) (lf.Page, error) {
	all := f.itemsByKind[kind]

	start := 0
	if pageCursor != "" {
		for i, it := range all {
			if it["id"] == pageCursor {
				start = i + 1
				break
			}
		}
	} else if cursor != "" {
		lte, _ := strconv.ParseInt(cursor, 10, 64)
		for i, it := range all {
			if int64(it["created"].(float64)) <= lte {
				start = i
				break
			}
		}
	}

	end := start + f.pageSize
	if end > len(all) {
		end = len(all)
	}
	page := all[start:end]

	out := lf.Page{
		Items:   page,
		HasMore: end < len(all),
	}
	if len(page) > 0 {
		out.LastID = page[len(page)-1]["id"].(string)
		min := int64(page[0]["created"].(float64))
		for _, it := range page {
			if c := int64(it["created"].(float64)); c < min {
				min = c
			}
		}
		out.MinCreated = min
	}
	return out, nil
}

type countingSink struct {
	mu    sync.Mutex
	items []eu.Item
}

func (s *countingSink) Upsert(_ context.Context, _ string, items []eu.Item, _ hlc.Time, opts eu.Options) ([]eu.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.BackfillRelatedEntities {
		panic("bulk sync must not backfill related entities")
	}
	s.items = append(s.items, items...)
	return make([]eu.Outcome, len(items)), nil
}

func seedItems(kind string, createds ...int64) []map[string]any {
	out := make([]map[string]any, len(createds))
	for i, c := range createds {
		out[i] = map[string]any{
			"id":      kind + "_" + strconv.Itoa(i),
			"object":  kind,
			"created": float64(c),
		}
	}
	return out
}

func runPool(t *testing.T, pool *Pool, key types.SyncRunKey) {
	t.Helper()
	ctx := stopper.WithContext(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx, key) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pool did not drain")
	}
	ctx.Stop(time.Second)
}

func TestPoolDrainsPaginatedBackfill(t *testing.T) {
	key := types.SyncRunKey{AccountID: "acct_1", StartedAt: time.Now()}
	source := &memorySource{tasks: []dg.ClaimedTask{
		{AccountID: key.AccountID, StartedAt: key.StartedAt, ObjectKind: "product"},
	}}
	fetcher := &pagedFetcher{
		itemsByKind: map[string][]map[string]any{
			"product": seedItems("product", 500, 400, 300, 200, 100),
		},
		pageSize: 2,
	}
	sink := &countingSink{}

	pool := New(Config{NumWorkers: 2}, source, fetcher, sink)
	runPool(t, pool, key)

	assert.Len(t, sink.items, 5)
	require.NotEmpty(t, source.progress)
	last := source.progress[len(source.progress)-1]
	assert.False(t, last.hasMore)

	// Pagination honesty: each follow-up page resumes strictly past the
	// previous one, by page cursor or by an older created bound.
	for i := 1; i < len(source.progress); i++ {
		prev, cur := source.progress[i-1], source.progress[i]
		if cur.minCreated != 0 && prev.minCreated != 0 {
			assert.Less(t, cur.minCreated, prev.minCreated)
		}
	}
	assert.Empty(t, source.failures)
}

func TestPoolFailsObjectOnEmptyPageWithHasMore(t *testing.T) {
	key := types.SyncRunKey{AccountID: "acct_1", StartedAt: time.Now()}
	source := &memorySource{tasks: []dg.ClaimedTask{
		{AccountID: key.AccountID, StartedAt: key.StartedAt, ObjectKind: "broken"},
	}}
	fetcher := fetcherFunc(func(context.Context, string, string, string, int64, int64) (lf.Page, error) {
		return lf.Page{HasMore: true}, nil
	})

	pool := New(Config{NumWorkers: 1}, source, fetcher, &countingSink{})
	runPool(t, pool, key)

	assert.Equal(t, "provider returned hasMore with empty page", source.failures["broken"])
}

func TestPoolHonorsTaskBudget(t *testing.T) {
	key := types.SyncRunKey{AccountID: "acct_1", StartedAt: time.Now()}
	// Endless supply of one-page tasks.
	source := &memorySource{}
	for i := 0; i < 50; i++ {
		source.tasks = append(source.tasks, dg.ClaimedTask{
			AccountID: key.AccountID, StartedAt: key.StartedAt, ObjectKind: "product",
		})
	}
	fetcher := &pagedFetcher{
		itemsByKind: map[string][]map[string]any{"product": seedItems("product", 100)},
		pageSize:    1,
	}
	sink := &countingSink{}

	pool := New(Config{NumWorkers: 1, TaskBudget: 3}, source, fetcher, sink)
	runPool(t, pool, key)

	assert.Len(t, sink.items, 3)
}

func TestPoolSurvivesChaos(t *testing.T) {
	key := types.SyncRunKey{AccountID: "acct_1", StartedAt: time.Now()}
	source := &memorySource{tasks: []dg.ClaimedTask{
		{AccountID: key.AccountID, StartedAt: key.StartedAt, ObjectKind: "product"},
	}}
	fetcher := &pagedFetcher{
		itemsByKind: map[string][]map[string]any{
			"product": seedItems("product", 300, 200, 100),
		},
		pageSize: 1,
	}
	sink := &countingSink{}

	chaosSource, chaosFetcher := WithChaos(source, fetcher, 0.2)
	pool := New(Config{NumWorkers: 2}, chaosSource, chaosFetcher, sink)

	// Transient chaos failures back off for errSleep before retrying,
	// so drive the loop bodies directly instead of waiting wall-clock
	// time: every item must land despite injected faults.
	ctx := stopper.WithContext(context.Background())
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := chaosSource.ClaimNextTask(ctx, key, 1)
		if err != nil {
			continue
		}
		if task == nil {
			break
		}
		for time.Now().Before(deadline) {
			if err := pool.processOne(ctx, *task); err == nil {
				break
			}
		}
	}
	ctx.Stop(time.Second)

	// A retried task may re-upsert a page it already wrote (at-least-
	// once semantics), so assert on the distinct set instead of a count.
	distinct := make(map[string]bool)
	for _, it := range sink.items {
		distinct[it.ID] = true
	}
	assert.Equal(t, map[string]bool{"product_0": true, "product_1": true, "product_2": true}, distinct)
	assert.Empty(t, source.failures)
}

type fetcherFunc func(ctx context.Context, kind, cursor, pageCursor string, createdGTE, createdLTE int64) (lf.Page, error)

func (f fetcherFunc) FetchPage(ctx context.Context, kind, cursor, pageCursor string, createdGTE, createdLTE int64) (lf.Page, error) {
	return f(ctx, kind, cursor, pageCursor, createdGTE, createdLTE)
}
