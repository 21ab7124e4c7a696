package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/ledger-monitor/internal/config"
	"github.com/dgnsrekt/ledger-monitor/internal/ledger"
	"github.com/dgnsrekt/ledger-monitor/internal/monitor"
	"github.com/dgnsrekt/ledger-monitor/internal/notify"
	"github.com/dgnsrekt/ledger-monitor/internal/server"
	"github.com/dgnsrekt/ledger-monitor/internal/store"
	"github.com/dgnsrekt/ledger-monitor/internal/syncer"
	"github.com/dgnsrekt/ledger-monitor/internal/watch"
	"github.com/dgnsrekt/ledger-monitor/internal/ws"
)

// app holds the wired component graph for a running process.
type app struct {
	store   *store.Store
	watcher *ledger.Watcher
	tracker *syncer.Tracker
	monitor *monitor.Monitor
	hub     *ws.Hub
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := store.Open(cfg.Store.Directory, logger)
	if err != nil {
		return nil, err
	}

	rpc := ledger.NewRPCClient(cfg.Ledger.RPCURL, cfg.Ledger.TokenMint, cfg.Ledger.Timeout(), logger)
	throttle := ledger.NewThrottle(
		cfg.Ledger.RateInterval(),
		cfg.Ledger.MaxRetries,
		cfg.Ledger.BackoffBase(),
		cfg.Ledger.CallTimeout(),
		logger,
	)
	client := ledger.NewThrottled(rpc, throttle)

	watcher := ledger.NewWatcher(cfg.Ledger.WSURL, logger)
	registry := watch.NewRegistry(monitor.NewLedgerSubscriber(watcher), logger)

	tracker := syncer.NewTracker()
	orch := syncer.NewOrchestrator(cfg.Sync.BatchSize, cfg.Sync.BatchDelay(), tracker, logger)

	m := monitor.New(client, registry, st, orch, tracker, notify.New(&cfg.Notify, logger), monitor.Config{
		IncrementalLimit: cfg.Sync.IncrementalLimit,
		BackfillLimit:    cfg.Sync.BackfillLimit,
		TopHolders:       cfg.Discovery.TopHolders,
		DiscoveryEnabled: cfg.Discovery.Enabled,
		StaticWallets:    cfg.Wallets,
	}, logger)

	hub := ws.NewHub(m, logger)
	m.AttachHub(hub)

	return &app{
		store:   st,
		watcher: watcher,
		tracker: tracker,
		monitor: m,
		hub:     hub,
	}, nil
}

func (a *app) close(ctx context.Context) {
	a.monitor.Shutdown(ctx)
	a.hub.Shutdown()
	a.watcher.Close()
	_ = a.store.Close()
}

func serveCmd() *cobra.Command {
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor daemon with the HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), autoStart)
		},
	}

	cmd.Flags().BoolVar(&autoStart, "start", true, "start monitoring immediately")

	return cmd
}

func runServe(ctx context.Context, autoStart bool) error {
	defer logger.Sync() //nolint:errcheck

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(a.monitor, a.tracker, a.hub, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(srv, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if autoStart {
		if err := a.monitor.StartMonitoring(ctx); err != nil {
			logger.Warn("initial monitoring start failed, continuing without watches", zap.Error(err))
		}
	}

	// Periodic resync keeps the store converged even when websocket
	// notifications are missed.
	ticker := time.NewTicker(cfg.Sync.ResyncInterval())
	defer ticker.Stop()

	logger.Info("monitor running",
		zap.Duration("resync_interval", cfg.Sync.ResyncInterval()),
		zap.Bool("discovery", cfg.Discovery.Enabled),
	)

	for {
		select {
		case <-ticker.C:
			jobID, err := a.monitor.EnqueueBackfill(ctx)
			if err != nil {
				if errors.Is(err, monitor.ErrJobActive) {
					logger.Debug("resync skipped, job still running")
					continue
				}
				logger.Warn("resync enqueue failed", zap.Error(err))
				continue
			}
			logger.Info("resync job enqueued", zap.String("job_id", jobID))

		case err := <-errCh:
			a.close(context.Background())
			return err

		case <-ctx.Done():
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown failed", zap.Error(err))
			}
			a.close(shutdownCtx)

			logger.Info("shutdown complete")
			return nil
		}
	}
}
