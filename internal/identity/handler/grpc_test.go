package handler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	authv1 "auth-service/api/auth/v1"
	"auth-service/internal/identity/service"
	"auth-service/internal/kv"
	"auth-service/internal/security"
	"auth-service/internal/server/interceptors"
	"auth-service/internal/session/registry"
	userrepo "auth-service/internal/user/repository"
)

func newTestServer(t *testing.T) (*AuthServer, *service.AuthService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	issuer, err := security.NewTestIssuer()
	if err != nil {
		t.Fatalf("NewTestIssuer: %v", err)
	}
	auth := service.NewAuthService(userrepo.NewMemoryRepository(), registry.New(kv.NewRedisStore(client)), issuer, security.NewHasher(4))
	return NewAuthServer(auth, nil), auth
}

// authenticate runs the strategy AuthUnary would run for method.
func authenticate(t *testing.T, auth *service.AuthService, method, token string) context.Context {
	t.Helper()
	id, err := Strategies(auth)[method].Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify %s: %v", method, err)
	}
	return interceptors.WithCallContext(context.Background(), &interceptors.CallContext{Identity: id, SessionID: id.SessionID})
}

func TestNilAuthService(t *testing.T) {
	srv := NewAuthServer(nil, nil)
	ctx := context.Background()
	calls := map[string]func() error{
		"Register":     func() error { _, err := srv.Register(ctx, &authv1.RegisterRequest{}); return err },
		"Login":        func() error { _, err := srv.Login(ctx, &authv1.LoginRequest{}); return err },
		"RefreshToken": func() error { _, err := srv.RefreshToken(ctx, &authv1.RefreshTokenRequest{}); return err },
		"GetProfile":   func() error { _, err := srv.GetProfile(ctx, &authv1.GetProfileRequest{}); return err },
		"Logout":       func() error { _, err := srv.Logout(ctx, &authv1.LogoutRequest{}); return err },
	}
	for name, call := range calls {
		if code := status.Code(call()); code != codes.Unimplemented {
			t.Errorf("%s: code = %v, want Unimplemented", name, code)
		}
	}
}

func TestRegisterLoginAndProfile(t *testing.T) {
	srv, auth := newTestServer(t)
	ctx := context.Background()

	meta, err := structpb.NewStruct(map[string]any{"device": "cli"})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	reg, err := srv.Register(ctx, &authv1.RegisterRequest{
		Name: "Ada Lovelace", Email: "a@b.com", Username: "ada", Password: "secret1",
		Metadata: meta,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.GetSsid() == "" || reg.GetAccessToken().GetToken() == "" || reg.GetUser().GetEmail() != "a@b.com" {
		t.Fatalf("register response = %+v", reg)
	}
	if !reg.GetAccessToken().GetExpiresAt().AsTime().After(reg.GetAccessToken().GetIssuedAt().AsTime()) {
		t.Errorf("access token expiry %v not after issue", reg.GetAccessToken().GetExpiresAt())
	}

	_, err = srv.Register(ctx, &authv1.RegisterRequest{Name: "X", Email: "a@b.com", Username: "x", Password: "secret1"})
	if status.Code(err) != codes.AlreadyExists {
		t.Errorf("duplicate register code = %v", status.Code(err))
	}
	_, err = srv.Register(ctx, &authv1.RegisterRequest{Name: "X", Email: "x@b.com", Username: "x", Password: "abc"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("short password code = %v", status.Code(err))
	}

	if _, err := srv.Login(ctx, &authv1.LoginRequest{Email: "a@b.com", Password: "wrong1"}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("bad login code = %v", status.Code(err))
	}
	login, err := srv.Login(ctx, &authv1.LoginRequest{Email: "a@b.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pctx := authenticate(t, auth, authv1.AuthService_GetProfile_FullMethodName, login.AccessToken.Token)
	prof, err := srv.GetProfile(pctx, &authv1.GetProfileRequest{})
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if prof.GetUser().GetUsername() != "ada" || prof.GetMessage() == "" {
		t.Errorf("profile = %+v", prof)
	}

	list, err := srv.ListSessions(pctx, &authv1.ListSessionsRequest{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if list.Count != 2 {
		t.Errorf("sessions = %d, want 2", list.Count)
	}
	current := 0
	for _, s := range list.GetSessions() {
		if s.GetSsid() == reg.GetSsid() {
			if got := s.GetMetadata().AsMap()["device"]; got != "cli" {
				t.Errorf("registered session device = %v, want cli", got)
			}
		}
		if s.GetCurrent() {
			current++
			if s.GetSsid() != login.GetSsid() {
				t.Errorf("current session = %q, want %q", s.GetSsid(), login.GetSsid())
			}
		}
	}
	if current != 1 {
		t.Errorf("current sessions = %d", current)
	}
}

func TestRefreshToken(t *testing.T) {
	srv, auth := newTestServer(t)
	reg, err := srv.Register(context.Background(), &authv1.RegisterRequest{Name: "Ada", Email: "a@b.com", Username: "ada", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	rctx := authenticate(t, auth, authv1.AuthService_RefreshToken_FullMethodName, reg.RefreshToken.Token)
	out, err := srv.RefreshToken(rctx, &authv1.RefreshTokenRequest{})
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if out.Ssid == reg.Ssid {
		t.Error("refresh should issue a new ssid")
	}

	// The same validated context cannot rotate twice.
	if _, err := srv.RefreshToken(rctx, &authv1.RefreshTokenRequest{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("second rotation code = %v", status.Code(err))
	}
	if _, err := srv.RefreshToken(context.Background(), &authv1.RefreshTokenRequest{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("missing context code = %v", status.Code(err))
	}
}

func TestLogoutAndRevoke(t *testing.T) {
	srv, auth := newTestServer(t)
	ctx := context.Background()
	reg, err := srv.Register(ctx, &authv1.RegisterRequest{Name: "Ada", Email: "a@b.com", Username: "ada", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := srv.Login(ctx, &authv1.LoginRequest{Email: "a@b.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	actx := authenticate(t, auth, authv1.AuthService_RevokeToken_FullMethodName, reg.AccessToken.Token)
	if _, err := srv.RevokeToken(actx, &authv1.RevokeTokenRequest{}); status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty jti code = %v", status.Code(err))
	}
	if _, err := srv.RevokeToken(actx, &authv1.RevokeTokenRequest{Jti: "unknown"}); status.Code(err) != codes.NotFound {
		t.Errorf("unknown jti code = %v", status.Code(err))
	}
	rev, err := srv.RevokeToken(actx, &authv1.RevokeTokenRequest{Jti: second.GetRefreshToken().GetJti()})
	if err != nil || rev.Ssid != second.Ssid {
		t.Fatalf("RevokeToken = %+v, %v", rev, err)
	}

	out, err := srv.Logout(actx, &authv1.LogoutRequest{})
	if err != nil || out.Ssid != reg.Ssid {
		t.Fatalf("Logout = %+v, %v", out, err)
	}
	if _, err := auth.ValidateAccess(ctx, reg.AccessToken.Token); !errors.Is(err, service.ErrInvalidToken) {
		t.Errorf("access token after logout: %v", err)
	}

	all, err := srv.RevokeAllSessions(actx, &authv1.RevokeAllSessionsRequest{})
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if len(all.RevokedSsids) != 0 {
		t.Errorf("nothing left to revoke, got %v", all.RevokedSsids)
	}
}

func TestToStatus(t *testing.T) {
	srv := NewAuthServer(nil, nil)
	tests := []struct {
		err  error
		want codes.Code
	}{
		{service.ErrInvalidToken, codes.Unauthenticated},
		{interceptors.ErrContextMissing, codes.Unauthenticated},
		{service.ErrInvalidCredentials, codes.Unauthenticated},
		{service.ErrUserNotFound, codes.NotFound},
		{service.ErrSessionNotFound, codes.NotFound},
		{service.ErrEmailTaken, codes.AlreadyExists},
		{fmt.Errorf("wrap: %w", service.ErrUsernameTaken), codes.AlreadyExists},
		{&service.ValidationError{Field: "email", Reason: "is required"}, codes.InvalidArgument},
		{kv.ErrUnavailable, codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(srv.toStatus(context.Background(), "op", tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
