package lf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/ident"
	"github.com/dbashand/stripe-sync-engine/internal/objectkind"
)

type listerFunc func(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error)

func (f listerFunc) List(ctx context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
	return f(ctx, opts)
}

func registryWith(t *testing.T, kind string, supportsCreated bool, lister objectkind.Lister) *Fetcher {
	t.Helper()
	r := objectkind.New(ident.NewSchema("stripe"))
	r.Register(&objectkind.Kind{
		Name:                  kind,
		SupportsCreatedFilter: supportsCreated,
		Lister:                lister,
	})
	return New(r)
}

func TestFetchPageTranslatesCursors(t *testing.T) {
	var seen objectkind.ListOptions
	fetcher := registryWith(t, "product", true,
		listerFunc(func(_ context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
			seen = opts
			return objectkind.ListPage{
				Items: []map[string]any{
					{"id": "prod_2", "created": float64(200)},
					{"id": "prod_1", "created": float64(100)},
				},
				HasMore: true,
				LastID:  "prod_1",
			}, nil
		}))

	page, err := fetcher.FetchPage(context.Background(), "product", "300", "prod_3", 50, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(300), seen.CreatedLTE)
	assert.Equal(t, int64(50), seen.CreatedGTE)
	assert.Equal(t, "prod_3", seen.StartingAfter)
	assert.Equal(t, 100, seen.PageSize)

	assert.True(t, page.HasMore)
	assert.Equal(t, int64(100), page.MinCreated)
	assert.Equal(t, "prod_1", page.LastID)
}

func TestFetchPageOmitsCreatedFilterWhenUnsupported(t *testing.T) {
	var seen objectkind.ListOptions
	fetcher := registryWith(t, "dispute", false,
		listerFunc(func(_ context.Context, opts objectkind.ListOptions) (objectkind.ListPage, error) {
			seen = opts
			return objectkind.ListPage{}, nil
		}))

	_, err := fetcher.FetchPage(context.Background(), "dispute", "300", "dp_1", 50, 0)
	require.NoError(t, err)
	assert.Zero(t, seen.CreatedLTE)
	assert.Zero(t, seen.CreatedGTE)
	assert.Equal(t, "dp_1", seen.StartingAfter)
}

func TestFetchPageRetriesTransientFailures(t *testing.T) {
	calls := 0
	fetcher := registryWith(t, "product", true,
		listerFunc(func(context.Context, objectkind.ListOptions) (objectkind.ListPage, error) {
			calls++
			if calls < 3 {
				return objectkind.ListPage{}, ekind.Newf(ekind.Transient, "rate limited")
			}
			return objectkind.ListPage{Items: []map[string]any{{"id": "prod_1"}}}, nil
		}))

	page, err := fetcher.FetchPage(context.Background(), "product", "", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, page.Items, 1)
}

func TestFetchPageDoesNotRetryPermanentFailures(t *testing.T) {
	calls := 0
	fetcher := registryWith(t, "product", true,
		listerFunc(func(context.Context, objectkind.ListOptions) (objectkind.ListPage, error) {
			calls++
			return objectkind.ListPage{}, ekind.Newf(ekind.Permanent, "bad request")
		}))

	_, err := fetcher.FetchPage(context.Background(), "product", "", "", 0, 0)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, ekind.Is(err, ekind.Permanent))
}

func TestFetchPageUnknownKind(t *testing.T) {
	fetcher := New(objectkind.New(ident.NewSchema("stripe")))
	_, err := fetcher.FetchPage(context.Background(), "nope", "", "", 0, 0)
	require.Error(t, err)
	assert.True(t, ekind.Is(err, ekind.Permanent))
}

func TestMinCreatedPicksSmallest(t *testing.T) {
	items := []map[string]any{
		{"id": "a", "created": float64(300)},
		{"id": "b", "created": float64(100)},
		{"id": "c", "created": float64(200)},
	}

	assert.Equal(t, int64(100), minCreated(items))
}

func TestMinCreatedIgnoresMissingField(t *testing.T) {
	items := []map[string]any{
		{"id": "a"},
		{"id": "b", "created": float64(50)},
	}

	assert.Equal(t, int64(50), minCreated(items))
}

func TestMinCreatedEmptyIsZero(t *testing.T) {
	assert.Equal(t, int64(0), minCreated(nil))
}

func TestParseCursor(t *testing.T) {
	assert.Equal(t, int64(1700000000), parseCursor("1700000000"))
	assert.Equal(t, int64(0), parseCursor("not-a-number"))
	assert.Equal(t, int64(0), parseCursor(""))
}
