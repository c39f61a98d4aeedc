package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "auth-service"

// Outcome labels recorded on auth counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeReuse   = "reuse"
)

// AuthMetrics counts auth outcomes. A nil *AuthMetrics records nothing.
type AuthMetrics struct {
	logins    metric.Int64Counter
	refreshes metric.Int64Counter
	revoked   metric.Int64Counter
	swept     metric.Int64Counter
	rpcs      metric.Int64Counter
	latency   metric.Float64Histogram
}

// NewAuthMetrics registers the auth instruments on mp.
func NewAuthMetrics(mp metric.MeterProvider) (*AuthMetrics, error) {
	meter := mp.Meter(meterName)
	logins, err := meter.Int64Counter("auth.logins", metric.WithDescription("Login and register attempts by outcome."))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("auth.refreshes", metric.WithDescription("Refresh token rotations by outcome."))
	if err != nil {
		return nil, err
	}
	revoked, err := meter.Int64Counter("auth.sessions.revoked", metric.WithDescription("Sessions revoked, by reason."))
	if err != nil {
		return nil, err
	}
	swept, err := meter.Int64Counter("auth.sessions.swept", metric.WithDescription("Unresolvable session entries removed by the sweeper."))
	if err != nil {
		return nil, err
	}
	rpcs, err := meter.Int64Counter("rpc.server.requests", metric.WithDescription("Unary RPCs handled, by method and status code."))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("rpc.server.duration",
		metric.WithDescription("Unary RPC latency."), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &AuthMetrics{
		logins:    logins,
		refreshes: refreshes,
		revoked:   revoked,
		swept:     swept,
		rpcs:      rpcs,
		latency:   latency,
	}, nil
}

func (m *AuthMetrics) Login(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) SessionsRevoked(ctx context.Context, n int, reason string) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *AuthMetrics) Swept(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(ctx, int64(n))
}

// RPC records one finished unary call.
func (m *AuthMetrics) RPC(ctx context.Context, resource, action, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.resource", resource),
		attribute.String("rpc.action", action),
		attribute.String("rpc.grpc.status_code", code),
	)
	m.rpcs.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}
