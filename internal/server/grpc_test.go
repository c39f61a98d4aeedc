package server

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	authv1 "auth-service/api/auth/v1"
	identityservice "auth-service/internal/identity/service"
	"auth-service/internal/kv"
	"auth-service/internal/security"
	"auth-service/internal/session/registry"
	userrepo "auth-service/internal/user/repository"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, _ any) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_AllServicesRegistered(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{})
	assert.Equal(t, []string{authv1.AuthService_ServiceDesc.ServiceName, healthpb.Health_ServiceDesc.ServiceName}, reg.services)
}

type harness struct {
	auth   authv1.AuthServiceClient
	health healthpb.HealthClient
	store  *kv.RedisStore
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := kv.NewRedisStore(client)

	issuer, err := security.NewTestIssuer()
	require.NoError(t, err)
	auth := identityservice.NewAuthService(userrepo.NewMemoryRepository(), registry.New(store), issuer, security.NewHasher(4))

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(Deps{Auth: auth, HealthStore: store})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{
		auth:   authv1.NewAuthServiceClient(conn),
		health: healthpb.NewHealthClient(conn),
		store:  store,
		mr:     mr,
	}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func bearer(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestServer_RefreshRotationAndReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.auth.Register(ctx, &authv1.RegisterRequest{
		Name: "Ada Lovelace", Email: "ada@example.com", Username: "ada", Password: "secret1",
		Metadata: mustStruct(t, map[string]any{"device": "laptop"}),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.Ssid)

	profile, err := h.auth.GetProfile(bearer(first.AccessToken.Token), &authv1.GetProfileRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.User.Email)

	second, err := h.auth.RefreshToken(bearer(first.RefreshToken.Token), &authv1.RefreshTokenRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Ssid, second.Ssid)

	// The rotated-away access token no longer authenticates.
	_, err = h.auth.GetProfile(bearer(first.AccessToken.Token), &authv1.GetProfileRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	list, err := h.auth.ListSessions(bearer(second.AccessToken.Token), &authv1.ListSessionsRequest{})
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, second.Ssid, list.Sessions[0].Ssid)
	assert.True(t, list.Sessions[0].Current)
	assert.Equal(t, "laptop", list.Sessions[0].GetMetadata().GetFields()["device"].GetStringValue())

	// Replaying the first refresh token fails and takes the successor down with it.
	_, err = h.auth.RefreshToken(bearer(first.RefreshToken.Token), &authv1.RefreshTokenRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = h.auth.RefreshToken(bearer(second.RefreshToken.Token), &authv1.RefreshTokenRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.False(t, h.mr.Exists("session:user:"+second.Ssid))
}

func TestServer_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.auth.GetProfile(ctx, &authv1.GetProfileRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	res, err := h.auth.Register(ctx, &authv1.RegisterRequest{
		Name: "Bob", Email: "bob@example.com", Username: "bob", Password: "secret1",
	})
	require.NoError(t, err)

	// An access token does not refresh, and a refresh token does not authorize calls.
	_, err = h.auth.RefreshToken(bearer(res.AccessToken.Token), &authv1.RefreshTokenRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	_, err = h.auth.GetProfile(bearer(res.RefreshToken.Token), &authv1.GetProfileRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.auth.Login(ctx, &authv1.LoginRequest{Email: "bob@example.com", Password: "wrong-password"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_LogoutAndRevokeAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.auth.Register(ctx, &authv1.RegisterRequest{
		Name: "Carol", Email: "carol@example.com", Username: "carol", Password: "secret1",
	})
	require.NoError(t, err)
	a, err := h.auth.Login(ctx, &authv1.LoginRequest{Email: "carol@example.com", Password: "secret1"})
	require.NoError(t, err)
	b, err := h.auth.Login(ctx, &authv1.LoginRequest{Email: "carol@example.com", Password: "secret1"})
	require.NoError(t, err)

	out, err := h.auth.Logout(bearer(a.AccessToken.Token), &authv1.LogoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, a.Ssid, out.Ssid)

	revoked, err := h.auth.RevokeAllSessions(bearer(b.AccessToken.Token), &authv1.RevokeAllSessionsRequest{})
	require.NoError(t, err)
	assert.Len(t, revoked.RevokedSsids, 2)
	_, err = h.auth.GetProfile(bearer(b.AccessToken.Token), &authv1.GetProfileRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	h.mr.Close()
	resp, err = h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: authv1.AuthService_ServiceDesc.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
