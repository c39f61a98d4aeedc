package handler

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	authv1 "auth-service/api/auth/v1"
	"auth-service/internal/identity/service"
	"auth-service/internal/logging"
	"auth-service/internal/security"
	"auth-service/internal/server/interceptors"
	userdomain "auth-service/internal/user/domain"
)

// AuthServer implements authv1.AuthServiceServer on top of the auth service.
// RefreshToken and the session methods rely on AuthUnary having verified the
// caller; see Strategies.
type AuthServer struct {
	authv1.UnimplementedAuthServiceServer
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthServer returns a new Auth gRPC server. auth may be nil; then every RPC returns Unimplemented.
func NewAuthServer(auth *service.AuthService, logger *slog.Logger) *AuthServer {
	return &AuthServer{auth: auth, logger: logging.OrNop(logger).With(logging.Component("auth_handler"))}
}

// Strategies returns the credential strategy each AuthService method requires.
// Register and Login are public.
func Strategies(auth *service.AuthService) map[string]interceptors.Strategy {
	access := interceptors.NewAccessStrategy(auth)
	return map[string]interceptors.Strategy{
		authv1.AuthService_RefreshToken_FullMethodName:      interceptors.NewRefreshStrategy(auth),
		authv1.AuthService_GetProfile_FullMethodName:        access,
		authv1.AuthService_Logout_FullMethodName:            access,
		authv1.AuthService_ListSessions_FullMethodName:      access,
		authv1.AuthService_RevokeAllSessions_FullMethodName: access,
		authv1.AuthService_RevokeToken_FullMethodName:       access,
	}
}

func (s *AuthServer) Register(ctx context.Context, req *authv1.RegisterRequest) (*authv1.AuthResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Register not implemented")
	}
	res, err := s.auth.Register(ctx, service.RegisterInput{
		Name:     req.GetName(),
		Email:    req.GetEmail(),
		Username: req.GetUsername(),
		Password: req.GetPassword(),
		Meta:     metaFromProto(req.GetMetadata()),
	})
	if err != nil {
		return nil, s.toStatus(ctx, "register", err)
	}
	return authResponse(res), nil
}

func (s *AuthServer) Login(ctx context.Context, req *authv1.LoginRequest) (*authv1.AuthResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	res, err := s.auth.Login(ctx, service.LoginInput{
		Email:    req.GetEmail(),
		Password: req.GetPassword(),
		Meta:     metaFromProto(req.GetMetadata()),
	})
	if err != nil {
		return nil, s.toStatus(ctx, "login", err)
	}
	return authResponse(res), nil
}

// RefreshToken rotates the session whose refresh token the interceptor validated.
func (s *AuthServer) RefreshToken(ctx context.Context, _ *authv1.RefreshTokenRequest) (*authv1.AuthResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method RefreshToken not implemented")
	}
	id, err := interceptors.CurrentUser(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "refresh", err)
	}
	ssid, err := interceptors.CurrentSessionID(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "refresh", err)
	}
	res, err := s.auth.RefreshBySession(ctx, ssid, id.TokenID)
	if err != nil {
		return nil, s.toStatus(ctx, "refresh", err)
	}
	return authResponse(res), nil
}

func (s *AuthServer) GetProfile(ctx context.Context, _ *authv1.GetProfileRequest) (*authv1.GetProfileResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method GetProfile not implemented")
	}
	id, err := interceptors.CurrentUser(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "get profile", err)
	}
	u, err := s.auth.GetProfile(ctx, id.ID)
	if err != nil {
		return nil, s.toStatus(ctx, "get profile", err)
	}
	return &authv1.GetProfileResponse{Message: "Profile retrieved successfully", User: userToProto(u)}, nil
}

func (s *AuthServer) Logout(ctx context.Context, _ *authv1.LogoutRequest) (*authv1.LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	id, err := interceptors.CurrentUser(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "logout", err)
	}
	if err := s.auth.Logout(ctx, id.ID, id.SessionID); err != nil {
		return nil, s.toStatus(ctx, "logout", err)
	}
	return &authv1.LogoutResponse{Ssid: id.SessionID}, nil
}

func (s *AuthServer) ListSessions(ctx context.Context, _ *authv1.ListSessionsRequest) (*authv1.ListSessionsResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method ListSessions not implemented")
	}
	id, err := interceptors.CurrentUser(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "list sessions", err)
	}
	recs, err := s.auth.ListSessions(ctx, id.ID)
	if err != nil {
		return nil, s.toStatus(ctx, "list sessions", err)
	}
	out := &authv1.ListSessionsResponse{Sessions: make([]*authv1.Session, 0, len(recs)), Count: int32(len(recs))}
	for _, rec := range recs {
		meta, err := structpb.NewStruct(rec.Meta)
		if err != nil {
			s.logger.WarnContext(ctx, "session metadata not representable", logging.SessionID(rec.SessionID), logging.Error(err))
		}
		out.Sessions = append(out.Sessions, &authv1.Session{
			Ssid:      rec.SessionID,
			CreatedAt: timestamppb.New(rec.CreatedAt),
			Metadata:  meta,
			Current:   rec.SessionID == id.SessionID,
		})
	}
	return out, nil
}

func (s *AuthServer) RevokeAllSessions(ctx context.Context, _ *authv1.RevokeAllSessionsRequest) (*authv1.RevokeAllSessionsResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method RevokeAllSessions not implemented")
	}
	id, err := interceptors.CurrentUser(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "revoke all sessions", err)
	}
	ids, err := s.auth.RevokeAllSessions(ctx, id.ID)
	if err != nil {
		return nil, s.toStatus(ctx, "revoke all sessions", err)
	}
	return &authv1.RevokeAllSessionsResponse{RevokedSsids: ids}, nil
}

func (s *AuthServer) RevokeToken(ctx context.Context, req *authv1.RevokeTokenRequest) (*authv1.RevokeTokenResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method RevokeToken not implemented")
	}
	if req.GetJti() == "" {
		return nil, status.Error(codes.InvalidArgument, "jti is required")
	}
	id, err := interceptors.CurrentUser(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, "revoke token", err)
	}
	ssid, err := s.auth.RevokeToken(ctx, id.ID, req.GetJti())
	if err != nil {
		return nil, s.toStatus(ctx, "revoke token", err)
	}
	return &authv1.RevokeTokenResponse{Ssid: ssid}, nil
}

// toStatus maps service errors to gRPC status errors. Unknown errors are
// logged and returned as Internal with a generic message.
func (s *AuthServer) toStatus(ctx context.Context, op string, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, interceptors.ErrContextMissing):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, service.ErrUserNotFound):
		return status.Error(codes.NotFound, "user not found")
	case errors.Is(err, service.ErrSessionNotFound):
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrUsernameTaken):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.As(err, &verr):
		return status.Error(codes.InvalidArgument, verr.Error())
	default:
		s.logger.ErrorContext(ctx, op+" failed", logging.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func authResponse(res *service.AuthResult) *authv1.AuthResponse {
	return &authv1.AuthResponse{
		AccessToken:  tokenToProto(res.AccessToken),
		RefreshToken: tokenToProto(res.RefreshToken),
		Ssid:         res.SessionID,
		User:         userToProto(res.User),
	}
}

func tokenToProto(t security.TokenResponse) *authv1.Token {
	return &authv1.Token{
		Token:     t.Token,
		Jti:       t.TokenID,
		IssuedAt:  timestamppb.New(t.IssuedAt),
		ExpiresAt: timestamppb.New(t.ExpiresAt),
	}
}

// metaFromProto returns nil for an absent struct so sessions created without
// metadata store none.
func metaFromProto(m *structpb.Struct) map[string]any {
	if m == nil {
		return nil
	}
	return m.AsMap()
}

func userToProto(u *userdomain.User) *authv1.User {
	if u == nil {
		return nil
	}
	out := &authv1.User{
		Id:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsActive:  u.IsActive,
	}
	if !u.CreatedAt.IsZero() {
		out.CreatedAt = timestamppb.New(u.CreatedAt)
	}
	return out
}
