package interceptors

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"auth-service/internal/audit"
	"auth-service/internal/logging"
	authotel "auth-service/internal/telemetry/otel"
)

// TelemetryUnary returns a unary server interceptor that logs each RPC and
// records it on metrics. metrics may be nil. skipMethods are neither logged
// nor counted (e.g. health checks). It runs outside AuthUnary so rejected
// calls are counted too.
func TelemetryUnary(logger *slog.Logger, metrics *authotel.AuthMetrics, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	logger = logging.OrNop(logger).With(logging.Component("grpc"))
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		ar := audit.ParseFullMethod(info.FullMethod)
		metrics.RPC(ctx, ar.Resource, ar.Action, code.String(), time.Since(start))

		level := slog.LevelInfo
		switch code {
		case codes.OK, codes.Unauthenticated, codes.InvalidArgument, codes.NotFound, codes.AlreadyExists:
		default:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			logging.Method(info.FullMethod),
			slog.String("code", code.String()),
			logging.Elapsed(start),
			slog.String("client_ip", ClientIP(ctx)),
		}
		logger.LogAttrs(ctx, level, "rpc finished", attrs...)
		return resp, err
	}
}
