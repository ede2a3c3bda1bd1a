package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dbashand/stripe-sync-engine/internal/dg"
	"github.com/dbashand/stripe-sync-engine/internal/lsc"
	"github.com/dbashand/stripe-sync-engine/internal/migrate"
	"github.com/dbashand/stripe-sync-engine/internal/sw"
	"github.com/dbashand/stripe-sync-engine/internal/util/stopper"
	"github.com/dbashand/stripe-sync-engine/internal/wm"
)

// webhookEvents is the event set managed endpoints subscribe to. A
// wildcard keeps the mirrored catalog complete; unknown kinds are
// rejected downstream with a per-row error rather than a dropped
// endpoint.
var webhookEvents = []string{"*"}

func startCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "receive and apply events continuously",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Preflight(); err != nil {
				return withExitCode(exitConfig, err)
			}
			if err := cfg.requireStripeKey(); err != nil {
				return withExitCode(exitConfig, err)
			}

			ctx := stopper.WithContext(cmd.Context())

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

			accountID, err := e.ensureAccount(ctx)
			if err != nil {
				return withExitCode(exitRuntime, err)
			}

			var managed *managedWebhook
			if cfg.PublicURL != "" && !cfg.UseWebsocket {
				managed, err = reconcileWebhook(ctx, e, accountID)
				if err != nil {
					return withExitCode(exitRuntime, err)
				}
			}

			if !cfg.SkipBackfill {
				runBackgroundBackfill(ctx, e, accountID, cfg)
			}
			startSweeper(ctx, e, cfg)

			if cfg.UseWebsocket {
				startLiveStream(ctx, e, accountID, cfg)
			}

			server := &http.Server{Addr: cfg.BindAddr, Handler: e.Ingress.Router()}
			ctx.Go(func() error {
				log.WithField("addr", cfg.BindAddr).Info("webhook receiver listening")
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			ctx.Go(func() error {
				<-ctx.Stopping()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			waitForSignal(ctx)

			if managed != nil && !cfg.KeepWebhooksOnShutdown {
				deleteCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := e.Webhooks.DeleteManagedWebhook(deleteCtx, accountID, managed.id); err != nil {
					log.WithError(err).Warn("could not remove managed webhook endpoint")
				}
				cancel()
			}

			ctx.Stop(30 * time.Second)
			return withExitCode(exitRuntime, ctx.Wait())
		},
	}
}

type managedWebhook struct {
	id string
}

// reconcileWebhook finds or creates the managed endpoint for the
// public URL and makes its routing row available to the ingress, so a
// fresh deployment is reachable without manual endpoint setup.
func reconcileWebhook(ctx *stopper.Context, e *engine, accountID string) (*managedWebhook, error) {
	hook, err := e.Webhooks.FindOrCreateManagedWebhook(ctx, accountID,
		e.Config.PublicURL+e.Config.WebhookPath, wm.Options{EnabledEvents: webhookEvents})
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(hook.URL)
	if err != nil {
		return nil, err
	}
	if err := e.Gateway.UpsertMerchant(ctx, dg.Merchant{
		Host: parsed.Hostname(), AccountID: accountID, WebhookSecret: hook.Secret,
	}); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"webhook": hook.ID,
		"url":     hook.URL,
	}).Info("managed webhook endpoint ready")
	return &managedWebhook{id: hook.ID}, nil
}

// runBackgroundBackfill brings the mirror up to date while the event
// path is already serving.
func runBackgroundBackfill(ctx *stopper.Context, e *engine, accountID string, cfg *Config) {
	ctx.Go(func() error {
		key, err := e.Runs.JoinOrCreateRun(ctx, accountID, "worker", e.Kinds.All(), 0, cfg.MaxConcurrent)
		if err != nil {
			log.WithError(err).Error("could not start background backfill")
			return nil
		}
		pool := sw.New(sw.Config{
			NumWorkers:    cfg.NumWorkers,
			MaxConcurrent: cfg.MaxConcurrent,
		}, e.Runs, e.Fetcher, e.Upserter)
		if err := pool.Run(ctx, key); err != nil {
			log.WithError(err).Warn("background backfill stopped early")
			return nil
		}
		if summary, err := e.Runs.CloseRun(ctx, key); err == nil && summary.ClosedAt != nil {
			log.WithField("status", summary.Status).Info("background backfill finished")
		}
		return nil
	})
}

// startSweeper periodically cancels runs past their maximum age and
// hands abandoned object runs back to the queue.
func startSweeper(ctx *stopper.Context, e *engine, cfg *Config) {
	ctx.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Stopping():
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if n, err := e.Runs.CancelStale(ctx, cfg.RunMaxAge); err != nil {
				log.WithError(err).Warn("stale-run sweep failed")
			} else if n > 0 {
				log.WithField("cancelled", n).Info("cancelled stale sync runs")
			}
			if n, err := e.Runs.ReclaimStale(ctx, 15*time.Minute); err != nil {
				log.WithError(err).Warn("stale-task sweep failed")
			} else if n > 0 {
				log.WithField("reclaimed", n).Info("returned stale object runs to the queue")
			}
		}
	})
}

// startLiveStream consumes events over the duplex stream instead of
// waiting for inbound HTTP.
func startLiveStream(ctx *stopper.Context, e *engine, accountID string, cfg *Config) {
	client := lsc.New(cfg.LiveStreamURL, cfg.StripeKey,
		func(handlerCtx context.Context, raw []byte) (string, string) {
			// Stream frames arrive pre-authenticated on the session, so
			// they bypass HMAC verification and go straight to dispatch.
			result, err := e.Processor.Dispatch(handlerCtx, accountID, raw)
			if err != nil {
				log.WithError(err).Warn("live stream event failed")
				return "error", result.EventID
			}
			return "ok", result.EventID
		},
		lsc.Callbacks{
			OnReady: func(string) { log.Info("live stream connected") },
			OnError: func(err error) { log.WithError(err).Warn("live stream error") },
			OnClose: func(code int, reason string) {
				log.WithFields(log.Fields{"code": code, "reason": reason}).Info("live stream closed")
			},
		})
	ctx.Go(func() error {
		defer client.Close()
		done := make(chan struct{})
		go func() {
			<-ctx.Stopping()
			client.Close()
			close(done)
		}()
		err := client.Run(ctx)
		select {
		case <-done:
			return nil
		default:
			return err
		}
	})
}

func waitForSignal(ctx *stopper.Context) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	select {
	case sig := <-signals:
		log.WithField("signal", sig).Info("shutting down")
	case <-ctx.Done():
	}
}
