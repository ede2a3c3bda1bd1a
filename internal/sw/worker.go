// Package sw implements the Sync Worker: N cooperative workers that
// each claim one Object Run, process one page, commit progress, and
// loop. Workers do not pin to an object kind; whichever worker is free
// next takes whatever task is pending.
package sw

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/eu"
	"github.com/dbashand/stripe-sync-engine/internal/hlc"
	"github.com/dbashand/stripe-sync-engine/internal/lf"
	"github.com/dbashand/stripe-sync-engine/internal/types"
	"github.com/dbashand/stripe-sync-engine/internal/util/notify"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
)

// errSleep is how long a worker pauses after a transient failure before
// retrying.
const errSleep = 5 * time.Second

// TaskSource is the slice of the Run Registry a worker needs: claiming,
// progress, and failure reporting. *rr.Registry satisfies it.
type TaskSource interface {
	ClaimNextTask(ctx context.Context, key types.SyncRunKey, maxConcurrent int) (*dg.ClaimedTask, error)
	UpdateProgress(ctx context.Context, key types.ObjectRunKey, minCreated int64, lastIDInPage string, hasMore bool, pageCount int64) error
	FailObject(ctx context.Context, key types.ObjectRunKey, message string) error
}

// PageFetcher retrieves one page for an object kind. *lf.Fetcher
// satisfies it.
type PageFetcher interface {
	FetchPage(ctx context.Context, kind, cursor, pageCursor string, createdGTE, createdLTE int64) (lf.Page, error)
}

// Sink writes a page of provider objects. *eu.Upserter satisfies it.
type Sink interface {
	Upsert(ctx context.Context, accountID string, items []eu.Item, lastSyncedAt hlc.Time, opts eu.Options) ([]eu.Outcome, error)
}

// Config controls one Pool's behavior.
type Config struct {
	NumWorkers    int
	MaxConcurrent int
	TaskBudget    int // 0 means unbounded
}

// Pool runs Config.NumWorkers cooperative workers against one Sync Run.
type Pool struct {
	cfg      Config
	registry TaskSource
	fetcher  PageFetcher
	upserter Sink

	mu             sync.Mutex
	processedCount int64
	processed      notify.Var[int64]
}

// New constructs a Pool over the given Run Registry, List Fetcher, and
// Entity Upserter.
func New(cfg Config, registry TaskSource, fetcher PageFetcher, upserter Sink) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	return &Pool{cfg: cfg, registry: registry, fetcher: fetcher, upserter: upserter}
}

// Processed exposes the pool's running row count. Callers block on the
// variable's update channel to report progress without polling the
// database.
func (p *Pool) Processed() *notify.Var[int64] {
	return &p.processed
}

func (p *Pool) addProcessed(n int64) {
	if n == 0 {
		return
	}
	p.mu.Lock()
	p.processedCount += n
	count := p.processedCount
	p.mu.Unlock()
	p.processed.Set(count)
}

// Run spawns the pool's workers against key and blocks until every
// worker has exited: no more tasks were claimable, the task budget was
// reached, or ctx was asked to stop. The workers run on their own child
// context so waiting for them does not entangle whatever else the
// caller has running on ctx.
func (p *Pool) Run(ctx *stopper.Context, key types.SyncRunKey) error {
	var budget chan struct{}
	if p.cfg.TaskBudget > 0 {
		budget = make(chan struct{}, p.cfg.TaskBudget)
		for i := 0; i < p.cfg.TaskBudget; i++ {
			budget <- struct{}{}
		}
	}

	workCtx := stopper.WithContext(ctx)
	for i := 0; i < p.cfg.NumWorkers; i++ {
		workCtx.Go(func() error {
			p.loop(workCtx, key, budget)
			return nil
		})
	}
	err := workCtx.Wait()
	workCtx.Stop(time.Second)
	return err
}

func (p *Pool) loop(ctx *stopper.Context, key types.SyncRunKey, budget chan struct{}) {
	for {
		select {
		case <-ctx.Stopping():
			return
		default:
		}
		if budget != nil {
			select {
			case <-budget:
			default:
				return
			}
		}

		task, err := p.registry.ClaimNextTask(ctx, key, p.cfg.MaxConcurrent)
		if err != nil {
			log.WithError(err).Warn("claim-next-task failed, backing off")
			sleepOrStop(ctx, errSleep)
			continue
		}
		if task == nil {
			return // nothing claimable: the worker's job is done
		}

		start := time.Now()
		err = p.processOne(ctx, *task)
		taskDuration.WithLabelValues(task.ObjectKind).Observe(time.Since(start).Seconds())
		if err != nil {
			taskErrors.WithLabelValues(task.ObjectKind).Inc()
			log.WithError(err).WithField("object_kind", task.ObjectKind).
				Warn("object run processing failed, treating as transient")
			sleepOrStop(ctx, errSleep)
		}
	}
}

// processOne handles one claimed task: fetch one page, reject an empty
// page that still claims hasMore (an upstream bug the worker must not
// silently loop on), upsert the page with related-entity backfill
// disabled, and commit progress.
func (p *Pool) processOne(ctx context.Context, task dg.ClaimedTask) error {
	key := types.ObjectRunKey{
		SyncRunKey: types.SyncRunKey{AccountID: task.AccountID, StartedAt: task.StartedAt},
		ObjectKind: task.ObjectKind,
		CreatedGTE: task.CreatedGTE,
	}

	page, err := p.fetcher.FetchPage(ctx, task.ObjectKind, task.Cursor, task.PageCursor, task.CreatedGTE, task.CreatedLTE)
	if err != nil {
		if ekind.Is(err, ekind.Transient) {
			return err
		}
		return p.registry.FailObject(ctx, key, err.Error())
	}

	if len(page.Items) == 0 && page.HasMore {
		return p.registry.FailObject(ctx, key, "provider returned hasMore with empty page")
	}

	items := make([]eu.Item, len(page.Items))
	for i, raw := range page.Items {
		items[i] = itemFromRaw(task.ObjectKind, raw)
	}
	if len(items) > 0 {
		lastSynced := latestTimestamp(page.Items)
		if _, err := p.upserter.Upsert(ctx, task.AccountID, items, lastSynced, eu.Options{BackfillRelatedEntities: false}); err != nil {
			return err
		}
	}

	if err := p.registry.UpdateProgress(ctx, key, page.MinCreated, page.LastID, page.HasMore, int64(len(page.Items))); err != nil {
		return err
	}
	p.addProcessed(int64(len(page.Items)))
	return nil
}

func sleepOrStop(ctx *stopper.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Stopping():
	case <-ctx.Done():
	case <-timer.C:
	}
}
