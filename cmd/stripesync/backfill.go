package main

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dbashand/stripe-sync-engine/internal/migrate"
	"github.com/dbashand/stripe-sync-engine/internal/sw"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
)

func backfillCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill <objectKind>|all",
		Short: "enumerate the provider's list endpoints into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Preflight(); err != nil {
				return withExitCode(exitConfig, err)
			}
			if err := cfg.requireStripeKey(); err != nil {
				return withExitCode(exitConfig, err)
			}

			ctx := stopper.WithContext(cmd.Context())
			defer ctx.Stop(30 * time.Second)

			e, cleanup, err := newEngine(ctx, cfg)
			if err != nil {
				return withExitCode(exitRuntime, err)
			}
			defer cleanup()

			if !cfg.DisableMigrations {
				if err := e.Gateway.EnsureCoreSchema(ctx); err != nil {
					return withExitCode(exitMigration, err)
				}
				if err := migrate.EnsureEntityTables(ctx, e.Gateway, e.Kinds); err != nil {
					return withExitCode(exitMigration, err)
				}
			}

			objectSet := e.Kinds.All()
			if args[0] != "all" {
				if _, ok := e.Kinds.Get(args[0]); !ok {
					return withExitCode(exitConfig, errors.Errorf("unknown object kind %q", args[0]))
				}
				objectSet = []string{args[0]}
			}

			accountID, err := e.ensureAccount(ctx)
			if err != nil {
				return withExitCode(exitRuntime, err)
			}

			// Housekeeping before new work: runs abandoned by dead
			// processes are cancelled or handed back.
			if _, err := e.Runs.CancelStale(ctx, cfg.RunMaxAge); err != nil {
				return withExitCode(exitRuntime, err)
			}
			if n, err := e.Runs.ReclaimStale(ctx, 15*time.Minute); err != nil {
				return withExitCode(exitRuntime, err)
			} else if n > 0 {
				log.WithField("reclaimed", n).Info("returned stale object runs to the queue")
			}

			key, err := e.Runs.JoinOrCreateRun(ctx, accountID, "cli-backfill", objectSet, 0, cfg.MaxConcurrent)
			if err != nil {
				return withExitCode(exitRuntime, err)
			}
			log.WithFields(log.Fields{
				"account": accountID,
				"objects": len(objectSet),
			}).Info("backfill starting")

			pool := sw.New(sw.Config{
				NumWorkers:    cfg.NumWorkers,
				MaxConcurrent: cfg.MaxConcurrent,
			}, e.Runs, e.Fetcher, e.Upserter)

			// Progress log, woken by the pool instead of polling.
			ctx.Go(func() error {
				lastLogged := time.Now()
				for {
					count, changed := pool.Processed().Get()
					if count > 0 && time.Since(lastLogged) >= 5*time.Second {
						log.WithField("rows", count).Info("backfill progress")
						lastLogged = time.Now()
					}
					select {
					case <-ctx.Stopping():
						return nil
					case <-ctx.Done():
						return nil
					case <-changed:
					}
				}
			})

			if err := pool.Run(ctx, key); err != nil {
				return withExitCode(exitRuntime, err)
			}

			summary, err := e.Runs.CloseRun(ctx, key)
			if err != nil {
				return withExitCode(exitRuntime, err)
			}
			log.WithFields(log.Fields{
				"status":   summary.Status,
				"complete": summary.Complete,
				"errored":  summary.Error,
				"total":    summary.Total,
			}).Info("backfill finished")
			if summary.Error > 0 {
				return withExitCode(exitRuntime, errors.Errorf("%d object runs errored", summary.Error))
			}
			return nil
		},
	}
}
