package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	authv1 "auth-service/api/auth/v1"
	"auth-service/internal/logging"
)

const checkTimeout = 2 * time.Second

// Pinger is implemented by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StorePinger is implemented by the session key-value store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Server implements grpc.health.v1.Health for readiness/liveness. The overall
// status ("") and the auth service status both require every configured
// dependency to answer a ping.
type Server struct {
	healthpb.UnimplementedHealthServer
	db     Pinger
	store  StorePinger
	logger *slog.Logger
}

// NewServer returns a new Health gRPC server. db and store may be nil; then
// that check is skipped.
func NewServer(db Pinger, store StorePinger, logger *slog.Logger) *Server {
	return &Server{db: db, store: store, logger: logging.OrNop(logger).With(logging.Component("health"))}
}

// Check reports SERVING when the database and session store respond.
// Dependency failures are reported as NOT_SERVING, never as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", authv1.AuthService_ServiceDesc.ServiceName:
	default:
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	serving := healthpb.HealthCheckResponse_SERVING
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			s.logger.WarnContext(ctx, "database ping failed", logging.Error(err))
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "session store ping failed", logging.Error(err))
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return &healthpb.HealthCheckResponse{Status: serving}, nil
}
