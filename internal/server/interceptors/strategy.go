package interceptors

import (
	"context"

	sessiondomain "auth-service/internal/session/domain"
)

// Strategy verifies one kind of bearer credential carried in call metadata.
type Strategy interface {
	// ExtractToken returns the raw credential, or false when the call has none.
	ExtractToken(ctx context.Context) (string, bool)
	// Verify resolves the credential to an identity.
	Verify(ctx context.Context, token string) (*sessiondomain.Identity, error)
}

// AccessValidator validates access tokens (implemented by the auth service).
type AccessValidator interface {
	ValidateAccess(ctx context.Context, token string) (*sessiondomain.Identity, error)
}

// RefreshValidator validates refresh tokens (implemented by the auth service).
type RefreshValidator interface {
	ValidateRefresh(ctx context.Context, token string) (*sessiondomain.Identity, error)
}

// AccessStrategy accepts access tokens that are still current for a live session.
type AccessStrategy struct {
	v AccessValidator
}

func NewAccessStrategy(v AccessValidator) *AccessStrategy { return &AccessStrategy{v: v} }

func (s *AccessStrategy) ExtractToken(ctx context.Context) (string, bool) { return BearerToken(ctx) }

func (s *AccessStrategy) Verify(ctx context.Context, token string) (*sessiondomain.Identity, error) {
	return s.v.ValidateAccess(ctx, token)
}

// RefreshStrategy accepts refresh tokens. Verification has side effects: a
// stale or mismatching token revokes its session.
type RefreshStrategy struct {
	v RefreshValidator
}

func NewRefreshStrategy(v RefreshValidator) *RefreshStrategy { return &RefreshStrategy{v: v} }

func (s *RefreshStrategy) ExtractToken(ctx context.Context) (string, bool) { return BearerToken(ctx) }

func (s *RefreshStrategy) Verify(ctx context.Context, token string) (*sessiondomain.Identity, error) {
	return s.v.ValidateRefresh(ctx, token)
}
