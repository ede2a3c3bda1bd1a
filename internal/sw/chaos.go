package sw

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/lf"
	"github.com/dbashand/stripe-sync-engine/internal/types"
)

// ErrChaos is the error injected by the WithChaos wrappers in this
// package.
var ErrChaos = errors.New("chaos")

// WithChaos returns wrappers around a worker's collaborators that
// inject transient failures at the suspension points: claiming a task,
// fetching a page, and committing progress. Exercising the pool under
// chaos proves that a crash between any two commits leaves the Object
// Run resumable. The inputs are returned unwrapped if prob is less than
// or equal to zero.
func WithChaos(source TaskSource, fetcher PageFetcher, prob float32) (TaskSource, PageFetcher) {
	if prob <= 0 {
		return source, fetcher
	}
	return &chaosSource{delegate: source, prob: prob},
		&chaosFetcher{delegate: fetcher, prob: prob}
}

// This could include a *rand.Rand, but as soon as multiple workers call
// these methods there's no hope of repeatable behavior anyway.
type chaosSource struct {
	delegate TaskSource
	prob     float32
}

var _ TaskSource = (*chaosSource)(nil)

func (s *chaosSource) ClaimNextTask(ctx context.Context, key types.SyncRunKey, maxConcurrent int) (*dg.ClaimedTask, error) {
	if rand.Float32() < s.prob {
		return nil, doChaos("ClaimNextTask")
	}
	return s.delegate.ClaimNextTask(ctx, key, maxConcurrent)
}

func (s *chaosSource) UpdateProgress(ctx context.Context, key types.ObjectRunKey, minCreated int64, lastIDInPage string, hasMore bool, pageCount int64) error {
	if rand.Float32() < s.prob {
		return doChaos("UpdateProgress")
	}
	return s.delegate.UpdateProgress(ctx, key, minCreated, lastIDInPage, hasMore, pageCount)
}

func (s *chaosSource) FailObject(ctx context.Context, key types.ObjectRunKey, message string) error {
	// Never inject here: a failed FailObject would leave the run in a
	// state the sweeper has to clean up, which is a different test.
	return s.delegate.FailObject(ctx, key, message)
}

type chaosFetcher struct {
	delegate PageFetcher
	prob     float32
}

var _ PageFetcher = (*chaosFetcher)(nil)

func (f *chaosFetcher) FetchPage(ctx context.Context, kind, cursor, pageCursor string, createdGTE, createdLTE int64) (lf.Page, error) {
	if rand.Float32() < f.prob {
		return lf.Page{}, doChaos("FetchPage")
	}
	return f.delegate.FetchPage(ctx, kind, cursor, pageCursor, createdGTE, createdLTE)
}

func doChaos(location string) error {
	return ekind.New(ekind.Transient, errors.Wrap(ErrChaos, location))
}
