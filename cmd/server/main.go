// server runs the auth gRPC service: Redis-backed sessions, Postgres users, and
// OTLP telemetry when OTEL_EXPORTER_OTLP_ENDPOINT is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-service/internal/audit"
	"auth-service/internal/config"
	"auth-service/internal/db"
	identityservice "auth-service/internal/identity/service"
	"auth-service/internal/kv"
	"auth-service/internal/logging"
	"auth-service/internal/security"
	"auth-service/internal/server"
	"auth-service/internal/server/interceptors"
	"auth-service/internal/session/registry"
	authotel "auth-service/internal/telemetry/otel"
	userrepo "auth-service/internal/user/repository"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", logging.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.KeysConfigured() {
		return errors.New("JWT_ACCESS_* and JWT_REFRESH_* key pairs must be set")
	}
	accessKeys, err := security.LoadKeyPair(cfg.JWTAccessPrivateKey, cfg.JWTAccessPublicKey)
	if err != nil {
		return fmt.Errorf("access key pair: %w", err)
	}
	refreshKeys, err := security.LoadKeyPair(cfg.JWTRefreshPrivateKey, cfg.JWTRefreshPublicKey)
	if err != nil {
		return fmt.Errorf("refresh key pair: %w", err)
	}
	issuer, err := security.NewIssuer(accessKeys, refreshKeys, security.IssuerConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		AccessTTL:  cfg.JWTAccessTTL,
		RefreshTTL: cfg.JWTRefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	providers, err := authotel.NewProviders(ctx, cfg.Telemetry(version), logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := authotel.NewAuthMetrics(providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	auditLog := audit.NewLogger(providers.LoggerProvider, interceptors.ClientIP, logger)

	redisClient, err := kv.Connect(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer redisClient.Close()
	store := kv.NewRedisStore(redisClient)

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer conn.Close()
	users := userrepo.NewCachedRepository(userrepo.NewPostgresRepository(conn), store, cfg.UserCacheTTL, logger)

	sessions := registry.New(store, registry.WithLogger(logger), registry.WithSweepObserver(metrics.Swept))
	auth := identityservice.NewAuthService(users, sessions, issuer, security.NewHasher(cfg.BcryptCost),
		identityservice.WithLogger(logger),
		identityservice.WithAuditLogger(auditLog),
		identityservice.WithMetrics(metrics),
		identityservice.WithRotationCAS(cfg.SessionRotationCAS),
	)

	if cfg.SessionSweepInterval > 0 {
		go sessions.RunSweeper(ctx, cfg.SessionSweepInterval)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s := server.NewServer(server.Deps{
		Auth:        auth,
		Audit:       auditLog,
		Logger:      logger,
		Metrics:     metrics,
		HealthDB:    conn,
		HealthStore: store,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr), slog.String("version", version))
		serveErr <- s.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down gRPC server")
	s.GracefulStop()
	logger.Info("gRPC server stopped")
	return nil
}
