package sw_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/lf"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
	"github.com/dbashand/stripe-sync-engine/internal/rr"
	"github.com/dbashand/stripe-sync-engine/internal/sw"
	"github.com/dbashand/stripe-sync-engine/internal/testfixture"
	"github.com/dbashand/stripe-sync-engine/internal/types"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
)

// fakeLister serves seeded documents newest-first the way the provider's
// list endpoints do, honoring the created range and starting_after.
type fakeLister struct {
	mu    sync.Mutex
	items []map[string]any // kept sorted by created, descending
}

func (l *fakeLister) add(id string, created int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, map[string]any{
		"id": id, "object": "product", "created": float64(created),
	})
	for i := len(l.items) - 1; i > 0; i-- {
		if l.items[i]["created"].(float64) > l.items[i-1]["created"].(float64) {
			l.items[i], l.items[i-1] = l.items[i-1], l.items[i]
		}
	}
}

func (l *fakeLister) List(_ context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var filtered []map[string]any
	for _, it := range l.items {
		created := int64(it["created"].(float64))
		if opts.CreatedLTE != 0 && created > opts.CreatedLTE {
			continue
		}
		if opts.CreatedGTE != 0 && created < opts.CreatedGTE {
			continue
		}
		filtered = append(filtered, it)
	}
	if opts.StartingAfter != "" {
		for i, it := range filtered {
			if it["id"] == opts.StartingAfter {
				filtered = filtered[i+1:]
				break
			}
		}
	}

	size := opts.PageSize
	if size <= 0 || size > len(filtered) {
		size = len(filtered)
	}
	page := filtered[:size]

	out := objectkind.ListPage{Items: page, HasMore: size < len(filtered)}
	if len(page) > 0 {
		out.LastID = page[len(page)-1]["id"].(string)
	}
	return out, nil
}

type backfillStack struct {
	fixture  *testfixture.Fixture
	lister   *fakeLister
	registry *rr.Registry
	pool     func(cfg sw.Config) *sw.Pool
}

func newBackfillStack(t *testing.T) *backfillStack {
	t.Helper()
	f := testfixture.New(t)
	f.CreateEntityTable(t, "product")

	lister := &fakeLister{}
	kind, _ := f.Registry.Get("product")
	kind.Lister = lister
	kind.PageSize = 2

	registry := rr.New(f.Gateway, 50)
	fetcher := lf.New(f.Registry)
	upserter := eu.New(f.Gateway, f.Registry)

	return &backfillStack{
		fixture:  f,
		lister:   lister,
		registry: registry,
		pool: func(cfg sw.Config) *sw.Pool {
			return sw.New(cfg, registry, fetcher, upserter)
		},
	}
}

func (s *backfillStack) run(t *testing.T, cfg sw.Config) types.SyncRunKey {
	t.Helper()
	key, err := s.registry.JoinOrCreateRun(s.fixture.Context, "acct_1", "cli-backfill", []string{"product"}, 0, 5)
	require.NoError(t, err)

	ctx := stopper.WithContext(s.fixture.Context)
	done := make(chan error, 1)
	go func() { done <- s.pool(cfg).Run(ctx, key) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("backfill did not drain")
	}
	ctx.Stop(time.Second)
	return key
}

func (s *backfillStack) productCount(t *testing.T) int64 {
	t.Helper()
	kind, _ := s.fixture.Registry.Get("product")
	n, err := s.fixture.Gateway.CountEntities(s.fixture.Context, kind.Table, "acct_1")
	require.NoError(t, err)
	return n
}

func TestBackfillProgressesCursor(t *testing.T) {
	s := newBackfillStack(t)
	s.lister.add("prod_1", 100)
	s.lister.add("prod_2", 200)
	s.lister.add("prod_3", 300)

	key := s.run(t, sw.Config{NumWorkers: 2})
	assert.Equal(t, int64(3), s.productCount(t))

	summary, err := s.registry.CloseRun(s.fixture.Context, key)
	require.NoError(t, err)
	require.NotNil(t, summary.ClosedAt)
	assert.Equal(t, "complete", summary.Status)

	var cursor string
	err = s.fixture.Pool.QueryRow(s.fixture.Context,
		"SELECT cursor FROM "+s.fixture.Schema.Raw()+".object_runs WHERE object_kind = 'product'").
		Scan(&cursor)
	require.NoError(t, err)
	assert.Equal(t, "100", cursor, "the completed run remembers the oldest created value")

	// A newer object appears; the next run picks it up.
	s.lister.add("prod_4", 400)
	key2 := s.run(t, sw.Config{NumWorkers: 2})
	assert.NotEqual(t, key.StartedAt, key2.StartedAt)
	assert.Equal(t, int64(4), s.productCount(t))

	_, err = s.registry.CloseRun(s.fixture.Context, key2)
	require.NoError(t, err)
}

func TestBackfillResumesAfterInterruption(t *testing.T) {
	s := newBackfillStack(t)
	for i := 0; i < 10; i++ {
		s.lister.add("prod_"+string(rune('a'+i)), int64(100*(i+1)))
	}

	// A budget of one task processes a single page and stops, leaving
	// the run open mid-object, the way a killed process would.
	key := s.run(t, sw.Config{NumWorkers: 1, TaskBudget: 1})
	interrupted := s.productCount(t)
	require.Greater(t, interrupted, int64(0))
	require.Less(t, interrupted, int64(10))

	summary, err := s.registry.RunsSummary(s.fixture.Context, key)
	require.NoError(t, err)
	assert.Nil(t, summary.ClosedAt)

	// Restart: the new pool joins the same open run and finishes it.
	resumed := s.run(t, sw.Config{NumWorkers: 2})
	assert.Equal(t, key.StartedAt.UnixMilli(), resumed.StartedAt.UnixMilli())
	assert.Equal(t, int64(10), s.productCount(t))

	final, err := s.registry.CloseRun(s.fixture.Context, key)
	require.NoError(t, err)
	require.NotNil(t, final.ClosedAt)
	assert.Equal(t, "complete", final.Status)
}
