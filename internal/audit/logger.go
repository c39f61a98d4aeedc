// Package audit records security-relevant auth events (logins, rotations, reuse
// detection, revocations) as OpenTelemetry log records.
package audit

import (
	"context"
	"log/slog"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"auth-service/internal/logging"
)

// Actions emitted by the auth service.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLoginFailure   = "login_failure"
	ActionRefresh        = "refresh"
	ActionRefreshFailure = "refresh_failure"
	ActionReuseDetected  = "refresh_reuse_detected"
	ActionLogout         = "logout"
	ActionRevokeAll      = "revoke_all_sessions"
	ActionRevokeToken    = "revoke_token"
	ActionAccessDenied   = "access_denied"
)

const instrumentationName = "auth-service/audit"

// Event is one audit entry. Reason is internal detail and is never returned to clients.
type Event struct {
	Action    string
	UserID    string
	SessionID string
	Reason    string
	Failure   bool
	// Attrs are extra string attributes, e.g. the session a rotation produced.
	Attrs map[string]string
}

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. Used by auth and session code paths.
// LogEvent is best-effort: it never fails the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, e Event)
}

// RecordEmitter is the part of an OTel log.Logger the audit logger needs.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// Logger implements AuditLogger on an OTel record emitter and mirrors each
// event to the structured process log.
type Logger struct {
	emitter     RecordEmitter
	ipExtractor IPExtractor
	logger      *slog.Logger
	now         func() time.Time
}

// NewLogger returns an AuditLogger that emits through provider. provider may be
// nil; then events only reach the slog logger. ipExtractor may be nil; then IP
// is recorded as "unknown".
func NewLogger(provider *sdklog.LoggerProvider, ipExtractor IPExtractor, logger *slog.Logger) *Logger {
	var em RecordEmitter
	if provider != nil {
		em = provider.Logger(instrumentationName)
	}
	return NewLoggerWithEmitter(em, ipExtractor, logger)
}

// NewLoggerWithEmitter is NewLogger with an explicit emitter.
func NewLoggerWithEmitter(em RecordEmitter, ipExtractor IPExtractor, logger *slog.Logger) *Logger {
	return &Logger{
		emitter:     em,
		ipExtractor: ipExtractor,
		logger:      logging.OrNop(logger).With(logging.Component("audit")),
		now:         time.Now,
	}
}

// LogEvent emits one audit record.
func (l *Logger) LogEvent(ctx context.Context, e Event) {
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	outcome, severity, level := "success", otellog.SeverityInfo, slog.LevelInfo
	if e.Failure {
		outcome, severity, level = "failure", otellog.SeverityWarn, slog.LevelWarn
	}

	l.logger.LogAttrs(ctx, level, "audit event",
		slog.String("action", e.Action),
		slog.String("outcome", outcome),
		logging.UserID(e.UserID),
		logging.SessionID(e.SessionID),
		slog.String("client_ip", ip),
		logging.Reason(e.Reason),
	)

	if l.emitter == nil {
		return
	}
	var rec otellog.Record
	rec.SetTimestamp(l.now().UTC())
	rec.SetSeverity(severity)
	rec.SetSeverityText(severity.String())
	rec.SetEventName("auth." + e.Action)
	rec.SetBody(otellog.StringValue(e.Action))
	rec.AddAttributes(
		otellog.String("action", e.Action),
		otellog.String("outcome", outcome),
		otellog.String("client_ip", ip),
	)
	if e.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", e.UserID))
	}
	if e.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", e.SessionID))
	}
	if e.Reason != "" {
		rec.AddAttributes(otellog.String("reason", e.Reason))
	}
	for k, v := range e.Attrs {
		rec.AddAttributes(otellog.String(k, v))
	}
	l.emitter.Emit(ctx, rec)
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogEvent(context.Context, Event) {}
