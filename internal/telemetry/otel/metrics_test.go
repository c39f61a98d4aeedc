package otel

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Sum[int64]{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func total(sum metricdata.Sum[int64], kv ...attribute.KeyValue) int64 {
	want := attribute.NewSet(kv...)
	var n int64
	for _, dp := range sum.DataPoints {
		if len(kv) == 0 || dp.Attributes.Equals(&want) {
			n += dp.Value
		}
	}
	return n
}

func TestAuthMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAuthMetrics(mp)
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}
	ctx := context.Background()
	m.Login(ctx, "login", OutcomeSuccess)
	m.Login(ctx, "login", OutcomeFailure)
	m.Login(ctx, "login", OutcomeFailure)
	m.Refresh(ctx, OutcomeReuse)
	m.SessionsRevoked(ctx, 3, "revoke_all")
	m.SessionsRevoked(ctx, 0, "revoke_all")
	m.Swept(ctx, 2)
	m.RPC(ctx, "auth", "login", "OK", 3*time.Millisecond)
	m.RPC(ctx, "auth", "login", "Unauthenticated", time.Millisecond)

	sums := collect(t, reader)
	if got := total(sums["auth.logins"], attribute.String("kind", "login"), attribute.String("outcome", OutcomeFailure)); got != 2 {
		t.Errorf("failed logins = %d, want 2", got)
	}
	if got := total(sums["auth.refreshes"], attribute.String("outcome", OutcomeReuse)); got != 1 {
		t.Errorf("reuse refreshes = %d, want 1", got)
	}
	if got := total(sums["auth.sessions.revoked"]); got != 3 {
		t.Errorf("revoked = %d, want 3", got)
	}
	if got := total(sums["auth.sessions.swept"]); got != 2 {
		t.Errorf("swept = %d, want 2", got)
	}
	if got := total(sums["rpc.server.requests"]); got != 2 {
		t.Errorf("rpc requests = %d, want 2", got)
	}
}

func TestAuthMetrics_NilIsNoop(t *testing.T) {
	var m *AuthMetrics
	ctx := context.Background()
	m.Login(ctx, "login", OutcomeSuccess)
	m.Refresh(ctx, OutcomeSuccess)
	m.SessionsRevoked(ctx, 1, "logout")
	m.Swept(ctx, 1)
	m.RPC(ctx, "auth", "login", "OK", time.Millisecond)
}
