package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/sgward/sgward/pkg/config"
	"github.com/sgward/sgward/pkg/engine"
	"github.com/sgward/sgward/pkg/inventory"
	"github.com/sgward/sgward/pkg/providers/awsec2"
	"github.com/sgward/sgward/pkg/stores"
	"github.com/sgward/sgward/pkg/telemetry"
)

func newRunCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation daemon",
		Long: `Run the reconciliation loop until interrupted.

Every cycle scans the request store, re-verifies completed requests
against the inventory mirror, applies approved mutations against the
provider, and records every status transition. The next cycle is
scheduled only after the current one has fully settled.

The config file is watched while the daemon runs; changing the engine
interval takes effect without a restart.`,
		Example: `  # Run with the default config lookup
  sgward run

  # Run with an explicit config file
  sgward run -c /etc/sgward/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, version)
		},
	}
	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config, version string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return fmt.Errorf("failed to create tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	inv, err := inventory.Open(cfg.Inventory.DSN)
	if err != nil {
		return fmt.Errorf("failed to open inventory: %w", err)
	}
	defer inv.Close()
	if err := inv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("inventory is unreachable: %w", err)
	}

	provider := awsec2.New(logger)

	detector := engine.NewDetector(store, inv, logger, metrics, cfg.Engine.MaxParallel)
	applier := engine.NewApplier(store, provider, logger, metrics,
		cfg.Engine.MaxParallel, cfg.Engine.ProviderTimeout.Std())
	loop := engine.NewLoop(detector, applier, cfg.Engine.Interval.Std(), logger, metrics, tracer)
	loop.TrackCounts(store)

	if cfg.Telemetry.Metrics.Enabled {
		startMetricsServer(ctx, cfg.Telemetry.Metrics.Listen, metrics, store, logger)
	}

	if configPath != "" {
		go watchConfig(ctx, loop, logger)
	}

	logger.WithField("interval", loop.Interval().String()).Info("Reconciler started")
	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Reconciler stopped")
	return nil
}

// startMetricsServer serves /metrics and /healthz until the context is
// cancelled.
func startMetricsServer(ctx context.Context, listen string, metrics *telemetry.Metrics, store *stores.RequestStore, logger *telemetry.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("listen", listen).Info("Metrics listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics listener failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// watchConfig retunes the loop interval on config file changes.
func watchConfig(ctx context.Context, loop *engine.Loop, logger *telemetry.Logger) {
	err := config.Watch(ctx, configPath, logger, func(cfg *config.Config) {
		if cfg.Engine.Interval.Std() != loop.Interval() {
			logger.WithField("interval", cfg.Engine.Interval.Std().String()).Info("Interval retuned")
			loop.SetInterval(cfg.Engine.Interval.Std())
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Warn("Config watch stopped")
	}
}

// openStore opens the request store and verifies it is migrated.
func openStore(ctx context.Context, cfg *config.Config) (*stores.RequestStore, error) {
	store, err := stores.NewRequestStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open request store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate request store: %w", err)
	}
	return store, nil
}
