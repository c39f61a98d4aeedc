package interceptors

import (
	"context"
	"errors"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"auth-service/internal/audit"
	sessiondomain "auth-service/internal/session/domain"
)

type stubValidator struct {
	id    *sessiondomain.Identity
	err   error
	token string
}

func (s *stubValidator) ValidateAccess(_ context.Context, token string) (*sessiondomain.Identity, error) {
	s.token = token
	return s.id, s.err
}

func (s *stubValidator) ValidateRefresh(_ context.Context, token string) (*sessiondomain.Identity, error) {
	s.token = token
	return s.id, s.err
}

type auditSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *auditSink) LogEvent(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func withAuth(value string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", value))
}

const protected = "/auth.v1.AuthService/GetProfile"

func run(t *testing.T, interceptor grpc.UnaryServerInterceptor, ctx context.Context, method string) (*CallContext, bool, error) {
	t.Helper()
	var (
		got    *CallContext
		called bool
	)
	_, err := interceptor(ctx, "req", &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
		called = true
		got, _ = CallContextFrom(ctx)
		return "ok", nil
	})
	return got, called, err
}

func TestAuthUnary_PublicMethodPassesThrough(t *testing.T) {
	interceptor := AuthUnary(AuthConfig{Strategies: map[string]Strategy{}})
	cc, called, err := run(t, interceptor, context.Background(), "/auth.v1.AuthService/Login")
	if err != nil || !called {
		t.Fatalf("public call: called=%v err=%v", called, err)
	}
	if cc != nil {
		t.Error("public call should not carry a call context")
	}
}

func TestAuthUnary_ValidCredential(t *testing.T) {
	v := &stubValidator{id: &sessiondomain.Identity{
		UserSnapshot: sessiondomain.UserSnapshot{ID: "u1", Email: "a@b.com"},
		SessionID:    "s1",
	}}
	interceptor := AuthUnary(AuthConfig{Strategies: map[string]Strategy{protected: NewAccessStrategy(v)}})

	cc, called, err := run(t, interceptor, withAuth("bearer tok-123"), protected)
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
	if v.token != "tok-123" {
		t.Errorf("strategy got token %q", v.token)
	}
	if cc == nil || cc.Identity.ID != "u1" || cc.SessionID != "s1" {
		t.Errorf("call context = %+v", cc)
	}
}

func TestAuthUnary_RejectsBeforeHandler(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		v    *stubValidator
	}{
		{"no metadata", context.Background(), &stubValidator{}},
		{"no bearer prefix", withAuth("tok-123"), &stubValidator{}},
		{"empty token", withAuth("Bearer   "), &stubValidator{}},
		{"strategy error", withAuth("Bearer tok"), &stubValidator{err: errors.New("invalid token")}},
		{"nil identity", withAuth("Bearer tok"), &stubValidator{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &auditSink{}
			interceptor := AuthUnary(AuthConfig{
				Strategies: map[string]Strategy{protected: NewRefreshStrategy(tt.v)},
				Audit:      sink,
			})
			_, called, err := run(t, interceptor, tt.ctx, protected)
			if called {
				t.Fatal("handler must not run")
			}
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("code = %v, want Unauthenticated", status.Code(err))
			}
			if len(sink.events) != 1 || sink.events[0].Action != audit.ActionAccessDenied {
				t.Errorf("audit events = %+v", sink.events)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		value string
		want  string
		ok    bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"  bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(withAuth(tt.value))
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.value, got, ok, tt.want, tt.ok)
		}
	}

	md := metadata.MD{}
	md.Append("authorization", "Bearer first", "Bearer second")
	got, _ := BearerToken(metadata.NewIncomingContext(context.Background(), md))
	if got != "first" {
		t.Errorf("first value should win, got %q", got)
	}
}
