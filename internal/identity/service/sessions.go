package service

import (
	"context"
	"strconv"

	"auth-service/internal/audit"
	"auth-service/internal/logging"
	"auth-service/internal/security"
	sessiondomain "auth-service/internal/session/domain"
)

// ValidateAccess verifies an access token and checks that it is still the
// current access token of a live session, so logout and rotation revoke it
// before it expires.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (*sessiondomain.Identity, error) {
	claims, err := s.tokens.Verify(accessToken, security.TokenKindAccess)
	if err != nil {
		s.logger.DebugContext(ctx, "access token rejected", logging.Reason(reasonVerify), logging.Error(err))
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	rec, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "access session lookup", logging.SessionID(claims.SessionID), logging.Error(err))
		return nil, ErrInvalidToken
	}
	switch {
	case rec == nil:
		s.logger.DebugContext(ctx, "access token rejected", logging.SessionID(claims.SessionID), logging.Reason(reasonGone))
		return nil, ErrInvalidToken
	case rec.AccessJTI != claims.ID:
		s.logger.DebugContext(ctx, "access token rejected", logging.SessionID(claims.SessionID), logging.Reason(reasonAccessStale))
		return nil, ErrInvalidToken
	case rec.User.ID != claims.Subject:
		s.logger.WarnContext(ctx, "access token rejected", logging.SessionID(claims.SessionID), logging.Reason(reasonUserMismatch))
		return nil, ErrInvalidToken
	}
	return sessiondomain.NewIdentity(rec, claims.ID), nil
}

// Logout ends one session of the user. Logging out an absent session is a no-op.
func (s *AuthService) Logout(ctx context.Context, userID, ssid string) error {
	if err := s.sessions.Logout(ctx, userID, ssid); err != nil {
		return err
	}
	s.audit.LogEvent(ctx, audit.Event{Action: audit.ActionLogout, UserID: userID, SessionID: ssid})
	s.metrics.SessionsRevoked(ctx, 1, "logout")
	return nil
}

// ListSessions returns the user's live sessions ordered by session id.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Record, error) {
	return s.sessions.ListUserRecords(ctx, userID)
}

// CountSessions returns the number of live sessions of the user.
func (s *AuthService) CountSessions(ctx context.Context, userID string) (int, error) {
	return s.sessions.CountActiveSessions(ctx, userID)
}

// RevokeAllSessions ends every session of the user and returns the ids that were live.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, audit.Event{
		Action: audit.ActionRevokeAll,
		UserID: userID,
		Attrs:  map[string]string{"count": strconv.Itoa(len(ids))},
	})
	s.metrics.SessionsRevoked(ctx, len(ids), "revoke_all")
	return ids, nil
}

// RevokeToken ends the user's session that owns the token id jti and returns
// its session id. It returns ErrSessionNotFound when no live session of the
// user owns jti.
func (s *AuthService) RevokeToken(ctx context.Context, userID, jti string) (string, error) {
	ssid, err := s.sessions.RevokeUserToken(ctx, userID, jti)
	if err != nil {
		return "", err
	}
	if ssid == "" {
		return "", ErrSessionNotFound
	}
	s.audit.LogEvent(ctx, audit.Event{
		Action:    audit.ActionRevokeToken,
		UserID:    userID,
		SessionID: ssid,
		Attrs:     map[string]string{"jti": jti},
	})
	s.metrics.SessionsRevoked(ctx, 1, "revoke_token")
	return ssid, nil
}
