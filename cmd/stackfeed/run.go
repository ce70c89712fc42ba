package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/devblac/stackfeed/internal/chainhook"
	"github.com/devblac/stackfeed/internal/config"
	"github.com/devblac/stackfeed/internal/events"
	"github.com/devblac/stackfeed/internal/health"
	"github.com/devblac/stackfeed/internal/logging"
	"github.com/devblac/stackfeed/internal/metrics"
	"github.com/devblac/stackfeed/internal/notify"
	"github.com/devblac/stackfeed/internal/poller"
	"github.com/devblac/stackfeed/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagPush    bool
	flagPoll    bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run one poll cycle and exit (pull path only)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Do not send notifications")
	runCmd.Flags().BoolVar(&flagPush, "push", false, "Force-enable the push path")
	runCmd.Flags().BoolVar(&flagPoll, "poll", false, "Force-enable the pull path")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			logLevel = "info"
		}
		log := logging.NewWithLevel(logLevel)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if flagPush {
			cfg.Chainhook.Enabled = true
		}
		if flagPoll {
			cfg.Poller.Enabled = true
		}

		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			log.Info("metrics enabled", "addr", flagMetrics)
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux}
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		var notifier notify.Sender
		if cfg.Notify.URL != "" && !flagDryRun {
			notifier, err = notify.NewWebhookSender(cfg.Notify.URL, cfg.Notify.Method, cfg.Notify.Template, nil)
			if err != nil {
				return fmt.Errorf("notify sink: %w", err)
			}
		}

		net := cfg.Active()
		handlers := events.NewHandlerSet(store, cfg.Network, net, log, notifier, mtr)

		retrier := poller.Retrier{
			MaxAttempts: cfg.Poller.Retry.MaxAttempts,
			BaseDelay:   cfg.Poller.Retry.BaseDelay(),
			OnRetry: func() {
				if mtr != nil {
					mtr.Retries()
				}
			},
		}
		apiClient := poller.NewClient(cfg.API, retrier)

		if flagHealth != "" {
			checker := health.Checker{DBPing: store.Ping}
			if cfg.Poller.Enabled {
				checker.APIPing = apiClient.Ping
			}
			healthSrv := health.Serve(flagHealth, checker)
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		errCh := make(chan error, 2)
		pollerRunning := false

		if cfg.Chainhook.Enabled {
			subs := chainhook.Subscriptions(net)
			router := chainhook.NewRouter(log)
			adapter := chainhook.NewAdapter(handlers, log, mtr)
			adapter.WireRouter(router, subs)

			registrar := chainhook.NewRegistrar(cfg.Chainhook, log)
			if err := registrar.RegisterAll(ctx, subs, cfg.Network, net); err != nil {
				return fmt.Errorf("register subscriptions: %w", err)
			}

			srv := chainhook.NewServer(cfg.Chainhook.ListenAddr, cfg.Chainhook.AuthToken, router, log)
			srv.Start(ctx)
			log.Info("push path listening", "addr", cfg.Chainhook.ListenAddr)

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				registrar.DeregisterAll(shutdownCtx, subs)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("push path shutdown error", "error", err)
				}
			}()
		}

		if cfg.Poller.Enabled {
			p := poller.New(apiClient, store, handlers, cfg.Poller, cfg.Network, net, log, mtr)
			if err := p.Init(ctx); err != nil {
				return fmt.Errorf("init poller: %w", err)
			}

			if flagOnce {
				return p.RunOnce(ctx)
			}

			pollerRunning = true
			go func() {
				if err := p.Run(ctx); err != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("poller: %w", err)
				} else {
					errCh <- nil
				}
			}()
		}

		select {
		case <-ctx.Done():
			log.Info("shutdown requested")
			if pollerRunning {
				// let the in-flight cycle finish before the deferred
				// store close runs
				<-errCh
			}
			return nil
		case err := <-errCh:
			return err
		}
	},
}
