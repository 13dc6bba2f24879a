package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/mason/internal/app"
	"github.com/eugener/mason/internal/auth"
	"github.com/eugener/mason/internal/cache"
	"github.com/eugener/mason/internal/config"
	"github.com/eugener/mason/internal/ratelimit"
	"github.com/eugener/mason/internal/server"
	"github.com/eugener/mason/internal/storage/sqlite"
	"github.com/eugener/mason/internal/telemetry"
	"github.com/eugener/mason/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	slog.Info("starting mason", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Observability
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:   cfg.Telemetry.Tracing.Endpoint,
			SampleRate: cfg.Telemetry.Tracing.SampleRate,
			Version:    version,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Response cache
	responses, err := cache.NewService(cache.NewStore[*cache.Response](), cfg.Cache.ServiceConfig(), metrics)
	if err != nil {
		return err
	}
	defer responses.Close()

	// Wire services
	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}
	contactLimiter := ratelimit.NewRegistry(cfg.RateLimits.ContactRPM)

	handler, err := server.New(server.Deps{
		Auth:           apiKeyAuth,
		Content:        app.NewContent(store),
		Keys:           app.NewKeyManager(store),
		KeyStore:       store,
		Cache:          responses,
		KeyInvalidator: apiKeyAuth,
		ContactLimiter: contactLimiter,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		return err
	}

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	runner := worker.NewRunner(
		worker.NewCacheSweeper(responses, cfg.Cache.SweepInterval),
		worker.NewLimiterEvicter(contactLimiter),
	)
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workerCtx) }()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("mason ready", "addr", cfg.Server.Addr)

	// Wait for signal
	workersDone := false
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		return err
	case err := <-workerErr:
		workersDone = true
		if err != nil {
			return err
		}
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancelWorkers()
	if !workersDone {
		if err := <-workerErr; err != nil {
			slog.Warn("worker exited with error", "error", err)
		}
	}

	slog.Info("mason stopped")
	return nil
}

// setupLogger installs the process-wide slog handler.
func setupLogger(c config.LogConfig) {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	var h slog.Handler
	if c.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
