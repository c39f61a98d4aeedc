// sweeper prunes session index entries whose session records have expired.
// With -once it runs a single pass and exits; otherwise it sweeps every
// SESSION_SWEEP_INTERVAL until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-service/internal/config"
	"auth-service/internal/kv"
	"auth-service/internal/logging"
	"auth-service/internal/session/registry"
	authotel "auth-service/internal/telemetry/otel"
)

var version = "dev"

func main() {
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel).With(logging.Component("sweeper"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error("sweeper exited", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, once bool) error {
	providers, err := authotel.NewProviders(ctx, cfg.Telemetry(version), logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := authotel.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	client, err := kv.Connect(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer client.Close()
	sessions := registry.New(kv.NewRedisStore(client),
		registry.WithLogger(logger), registry.WithSweepObserver(metrics.Swept))

	if once || cfg.SessionSweepInterval <= 0 {
		return sweepOnce(ctx, sessions, metrics, logger)
	}
	logger.Info("sweeping sessions", slog.Duration("interval", cfg.SessionSweepInterval))
	sessions.RunSweeper(ctx, cfg.SessionSweepInterval)
	logger.Info("sweeper stopped")
	return nil
}

type sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

func sweepOnce(ctx context.Context, s sweeper, metrics *authotel.AuthMetrics, logger *slog.Logger) error {
	start := time.Now()
	n, err := s.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	metrics.Swept(ctx, n)
	logger.InfoContext(ctx, "session sweep complete", logging.Count("removed", n), logging.Elapsed(start))
	return nil
}
