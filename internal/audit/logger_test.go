package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"

	"auth-service/internal/logging"
)

// recordCapture stores every Record passed to Emit for assertion.
type recordCapture struct {
	mu   sync.Mutex
	recs []otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func attrs(rec otellog.Record) map[string]string {
	out := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestLogger_LogEvent_Success(t *testing.T) {
	cap := &recordCapture{}
	l := NewLoggerWithEmitter(cap, func(context.Context) string { return "10.0.0.1" }, nil)

	l.LogEvent(context.Background(), Event{
		Action:    ActionRefresh,
		UserID:    "u1",
		SessionID: "s1",
		Attrs:     map[string]string{"new_session_id": "s2"},
	})

	if len(cap.recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(cap.recs))
	}
	rec := cap.recs[0]
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want info", rec.Severity())
	}
	if rec.Timestamp().IsZero() {
		t.Error("timestamp should be set")
	}
	got := attrs(rec)
	want := map[string]string{
		"action": "refresh", "outcome": "success", "client_ip": "10.0.0.1",
		"user_id": "u1", "session_id": "s1", "new_session_id": "s2",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %q = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["reason"]; ok {
		t.Error("empty reason should not be recorded")
	}
}

func TestLogger_LogEvent_FailureWithReason(t *testing.T) {
	cap := &recordCapture{}
	var buf bytes.Buffer
	l := NewLoggerWithEmitter(cap, nil, logging.New(&buf, "info"))

	l.LogEvent(context.Background(), Event{Action: ActionReuseDetected, SessionID: "s1", Reason: "jti mismatch", Failure: true})

	rec := cap.recs[0]
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want warn", rec.Severity())
	}
	got := attrs(rec)
	if got["outcome"] != "failure" || got["reason"] != "jti mismatch" || got["client_ip"] != "unknown" {
		t.Errorf("attributes = %v", got)
	}
	if _, ok := got["user_id"]; ok {
		t.Error("empty user id should not be recorded")
	}
	if !strings.Contains(buf.String(), `"action":"refresh_reuse_detected"`) {
		t.Errorf("slog mirror missing action: %s", buf.String())
	}
}

func TestNewLogger_NilProviderStillLogs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(nil, nil, logging.New(&buf, "info"))
	l.LogEvent(context.Background(), Event{Action: ActionLogout, UserID: "u1"})
	if !strings.Contains(buf.String(), `"user_id":"u1"`) {
		t.Errorf("expected slog output, got %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	var l AuditLogger = Nop{}
	l.LogEvent(context.Background(), Event{Action: ActionLogin})
}
