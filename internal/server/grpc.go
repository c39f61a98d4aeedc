package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authv1 "auth-service/api/auth/v1"
	"auth-service/internal/audit"
	healthhandler "auth-service/internal/health/handler"
	identityhandler "auth-service/internal/identity/handler"
	identityservice "auth-service/internal/identity/service"
	"auth-service/internal/server/interceptors"
	authotel "auth-service/internal/telemetry/otel"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Auth is the auth service. If nil, auth RPCs return Unimplemented.
	Auth *identityservice.AuthService
	// Audit receives access-denied events from the auth interceptor. If nil, nothing is audited.
	Audit   audit.AuditLogger
	Logger  *slog.Logger
	Metrics *authotel.AuthMetrics
	// HealthDB is pinged by the health service (e.g. *sql.DB). If nil, the check is skipped.
	HealthDB healthhandler.Pinger
	// HealthStore is pinged by the health service (the session store). If nil, the check is skipped.
	HealthStore healthhandler.StorePinger
}

// unloggedMethods are not logged per call; probes would drown out real traffic.
var unloggedMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewServer returns a gRPC server with tracing, per-call logging and metrics,
// and bearer authentication installed, and every service registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	var strategies map[string]interceptors.Strategy
	if deps.Auth != nil {
		strategies = identityhandler.Strategies(deps.Auth)
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.TelemetryUnary(deps.Logger, deps.Metrics, unloggedMethods),
			interceptors.AuthUnary(interceptors.AuthConfig{
				Strategies: strategies,
				Audit:      deps.Audit,
				Logger:     deps.Logger,
			}),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers all gRPC services with the given server.
//
// Service → handler mapping:
//   - auth.v1.AuthService    → internal/identity/handler
//   - grpc.health.v1.Health  → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	authv1.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth, deps.Logger))
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthDB, deps.HealthStore, deps.Logger))
}
