package interceptors

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"auth-service/internal/audit"
	"auth-service/internal/logging"
)

const bearerPrefix = "bearer "

// AuthConfig maps full method names to the strategy that guards them.
// Methods without a strategy are public.
type AuthConfig struct {
	Strategies map[string]Strategy
	Audit      audit.AuditLogger
	Logger     *slog.Logger
}

// AuthUnary returns a unary server interceptor that runs the method's strategy
// against the bearer credential and publishes the resulting CallContext. Any
// failure ends the call with Unauthenticated before the handler runs.
func AuthUnary(cfg AuthConfig) grpc.UnaryServerInterceptor {
	logger := logging.OrNop(cfg.Logger).With(logging.Component("auth_interceptor"))
	auditor := cfg.Audit
	if auditor == nil {
		auditor = audit.Nop{}
	}
	deny := func(ctx context.Context, method, reason string, err error) error {
		logger.DebugContext(ctx, "call rejected", logging.Method(method), logging.Reason(reason), logging.Error(err))
		auditor.LogEvent(ctx, audit.Event{
			Action:  audit.ActionAccessDenied,
			Reason:  reason,
			Failure: true,
			Attrs:   map[string]string{"method": method},
		})
		return status.Error(codes.Unauthenticated, "unauthorized")
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		strategy, ok := cfg.Strategies[info.FullMethod]
		if !ok || strategy == nil {
			return handler(ctx, req)
		}
		token, ok := strategy.ExtractToken(ctx)
		if !ok {
			return nil, deny(ctx, info.FullMethod, "missing bearer token", nil)
		}
		id, err := strategy.Verify(ctx, token)
		if err != nil {
			return nil, deny(ctx, info.FullMethod, "credential rejected", err)
		}
		if id == nil {
			return nil, deny(ctx, info.FullMethod, "empty identity", nil)
		}
		ctx = WithCallContext(ctx, &CallContext{Identity: id, SessionID: id.SessionID})
		return handler(ctx, req)
	}
}

// BearerToken returns the token of the first authorization metadata value.
// The "Bearer " prefix is matched case-insensitively.
func BearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", false
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(v[len(bearerPrefix):])
	return token, token != ""
}
