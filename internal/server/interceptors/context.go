package interceptors

import (
	"context"
	"errors"

	sessiondomain "auth-service/internal/session/domain"
)

// ErrContextMissing is returned when a handler asks for the caller's identity
// on a call that was not authenticated.
var ErrContextMissing = errors.New("auth context missing")

// CallContext is the auth state AuthUnary publishes for one call. It is set
// once, before the handler runs, and never mutated.
type CallContext struct {
	Identity  *sessiondomain.Identity
	SessionID string
}

type callContextKey struct{}

// WithCallContext returns ctx carrying cc.
func WithCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the CallContext of ctx, if any.
func CallContextFrom(ctx context.Context) (*CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*CallContext)
	return cc, ok && cc != nil
}

// CurrentUser returns the verified identity of the caller or ErrContextMissing.
func CurrentUser(ctx context.Context) (*sessiondomain.Identity, error) {
	cc, ok := CallContextFrom(ctx)
	if !ok || cc.Identity == nil {
		return nil, ErrContextMissing
	}
	return cc.Identity, nil
}

// CurrentSessionID returns the session id the caller's credential belongs to or ErrContextMissing.
func CurrentSessionID(ctx context.Context) (string, error) {
	cc, ok := CallContextFrom(ctx)
	if !ok || cc.SessionID == "" {
		return "", ErrContextMissing
	}
	return cc.SessionID, nil
}
