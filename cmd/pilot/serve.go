package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/entrhq/pilot/pkg/actions"
	"github.com/entrhq/pilot/pkg/browser"
	"github.com/entrhq/pilot/pkg/config"
	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/events"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/metrics"
	"github.com/entrhq/pilot/pkg/plan"
	"github.com/entrhq/pilot/pkg/supervisor"
)

func newServeCmd() *cobra.Command {
	var plansDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Warm the session pool and serve the execution runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), plansDir)
		},
	}
	cmd.Flags().StringVar(&plansDir, "plans", "plans", "directory of YAML execution plans")

	return cmd
}

func runServe(ctx context.Context, plansDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	source, err := loadPlans(plansDir, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, err := actions.NewScreenshotStore(cfg.Artifacts.Dir, cfg.Artifacts.MaxScreenshots, logger)
	if err != nil {
		return fmt.Errorf("screenshot store: %w", err)
	}

	factory, err := browser.NewPlaywrightFactory(stealthProfile(cfg.Stealth), cfg.Pool.Headless, logger)
	if err != nil {
		return fmt.Errorf("playwright factory: %w", err)
	}
	defer func() { _ = factory.Close() }()

	warmCtx, cancelWarm := context.WithTimeout(ctx, 5*time.Minute)
	pool, err := browser.New(warmCtx, factory, poolLimits(cfg.Pool), logger, m)
	cancelWarm()
	if err != nil {
		return fmt.Errorf("warm pool: %w", err)
	}

	runner := actions.NewRegistry(store, cfg.Engine.RecoveryBackoff, logger)
	eng := engine.New(runner, cfg.Engine.PausePollInterval, logger, m, events.NewLogSink(logger))
	sup := supervisor.New(source, pool, eng, supervisor.Config{
		ResultRetention: cfg.Engine.ResultRetention,
		AcquireTimeout:  cfg.Pool.AcquireTimeout,
	}, logger)

	var ops *http.Server
	if cfg.Ops.Enabled {
		ops = opsServer(cfg.Ops.Addr, registry, pool)
		go func() {
			logger.Info("ops listener starting", zap.String("addr", cfg.Ops.Addr))
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops listener failed", zap.Error(err))
			}
		}()
	}

	logger.Info("pilot ready",
		zap.Int("pool_capacity", cfg.Pool.Capacity),
		zap.String("plans_dir", plansDir))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context cancelled"))
	}

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = ops.Shutdown(shutdownCtx)
		cancel()
	}
	sup.Close()
	return nil
}

// loadPlans reads the plan directory, tolerating its absence so the daemon
// can start before any plans are written.
func loadPlans(dir string, logger *zap.Logger) (plan.Source, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("plans directory missing, starting empty", zap.String("dir", dir))
		return plan.NewMapSource(), nil
	}
	source, err := plan.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	return source, nil
}

func opsServer(addr string, registry *prometheus.Registry, pool *browser.Pool) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		available, inUse, overflow := pool.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","pool":{"available":%d,"in_use":%d,"overflow":%d}}`+"\n",
			available, inUse, overflow)
	})
	return &http.Server{Addr: addr, Handler: r}
}

func stealthProfile(cfg config.StealthConfig) browser.StealthProfile {
	return browser.StealthProfile{
		UserAgent:      cfg.UserAgent,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		Timezone:       cfg.Timezone,
		Locale:         cfg.Locale,
		AcceptLanguage: cfg.AcceptLanguage,
	}
}

func poolLimits(cfg config.PoolConfig) browser.Limits {
	return browser.Limits{
		Capacity:        cfg.Capacity,
		OverflowCeiling: cfg.OverflowCeiling,
		MaxAge:          cfg.MaxAge,
		MaxUsage:        cfg.MaxUsage,
		MemoryCeilingMB: cfg.MemoryCeilingMB,
		SweepInterval:   cfg.SweepInterval,
	}
}
