package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"auth-service/internal/audit"
	"auth-service/internal/logging"
	"auth-service/internal/security"
	sessiondomain "auth-service/internal/session/domain"
	"auth-service/internal/session/registry"
	authotel "auth-service/internal/telemetry/otel"
	userdomain "auth-service/internal/user/domain"
)

// Internal rejection reasons. They reach logs and audit events, never callers.
const (
	reasonVerify       = "token verification failed"
	reasonClaims       = "token claims incomplete"
	reasonLookup       = "session lookup failed"
	reasonGone         = "session not found"
	reasonReplay       = "refresh token replayed after rotation"
	reasonRaced        = "session rotated by a concurrent refresh"
	reasonJTIMismatch  = "refresh token id mismatch"
	reasonHashMismatch = "refresh token fingerprint mismatch"
	reasonUserMismatch = "token subject does not own session"
	reasonUserMissing  = "user no longer exists"
	reasonUserInactive = "user inactive"
	reasonIssue        = "issue token pair"
	reasonPersist      = "persist rotated session"
	reasonExpired      = "refresh token has no lifetime left"
	reasonAccessStale  = "access token id mismatch"
)

// Refresh verifies a refresh token against its session, rotates the session
// into a new one with a new session id, and returns the new pair. Every
// failure returns ErrInvalidToken. A stale or mismatching token revokes the
// session it names.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	id, err := s.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return s.RefreshBySession(ctx, id.SessionID, id.TokenID)
}

// ValidateRefresh checks a refresh token and returns the identity of the session
// it belongs to. On a token id, fingerprint, or owner mismatch the session is
// logged out before the token is rejected. A token of a session that has
// already been rotated revokes every session that rotation produced.
func (s *AuthService) ValidateRefresh(ctx context.Context, refreshToken string) (*sessiondomain.Identity, error) {
	claims, err := s.tokens.Verify(refreshToken, security.TokenKindRefresh)
	if err != nil {
		return nil, s.reject(ctx, "", "", reasonVerify, err)
	}
	ssid, jti, userID := claims.SessionID, claims.ID, claims.Subject
	if ssid == "" || jti == "" || userID == "" {
		return nil, s.reject(ctx, userID, ssid, reasonClaims, nil)
	}

	rec, err := s.sessions.Get(ctx, ssid)
	if err != nil {
		return nil, s.reject(ctx, userID, ssid, reasonLookup, err)
	}
	if rec == nil {
		// The session is gone. If it was rotated, whoever holds its successor
		// got there with a token that has now been seen twice.
		s.revokeLineage(ctx, userID, ssid)
		return nil, s.reject(ctx, userID, ssid, reasonGone, nil)
	}

	switch {
	case rec.RefreshJTI != jti:
		s.revokeSession(ctx, rec, reasonJTIMismatch)
		return nil, s.reject(ctx, userID, ssid, reasonJTIMismatch, nil)
	case rec.RefreshHash != "" && !security.FingerprintMatches(refreshToken, rec.RefreshHash):
		s.revokeSession(ctx, rec, reasonHashMismatch)
		return nil, s.reject(ctx, userID, ssid, reasonHashMismatch, nil)
	case rec.User.ID != userID || rec.UserID != userID:
		s.revokeSession(ctx, rec, reasonUserMismatch)
		return nil, s.reject(ctx, userID, ssid, reasonUserMismatch, nil)
	}
	return sessiondomain.NewIdentity(rec, jti), nil
}

// RefreshBySession rotates a session whose refresh token was already validated
// (see ValidateRefresh). presentedJTI is the refresh token id that was
// validated; when empty the session's current id is used.
func (s *AuthService) RefreshBySession(ctx context.Context, ssid, presentedJTI string) (*AuthResult, error) {
	rec, err := s.sessions.Get(ctx, ssid)
	if err != nil {
		return nil, s.reject(ctx, "", ssid, reasonLookup, err)
	}
	if rec == nil {
		return nil, s.reject(ctx, "", ssid, reasonGone, nil)
	}
	if presentedJTI == "" {
		presentedJTI = rec.RefreshJTI
	}

	user, err := s.liveUser(ctx, rec.UserID)
	if err != nil {
		return nil, s.reject(ctx, rec.UserID, ssid, reasonLookup, err)
	}
	if user == nil || !user.IsActive {
		reason := reasonUserMissing
		if user != nil {
			reason = reasonUserInactive
		}
		s.revokeSession(ctx, rec, reason)
		return nil, s.reject(ctx, rec.UserID, ssid, reason, nil)
	}

	pair, err := s.tokens.IssuePair(security.Subject{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, s.reject(ctx, user.ID, ssid, reasonIssue, err)
	}
	ttl := s.sessionTTL(pair)
	if ttl <= 0 {
		return nil, s.reject(ctx, user.ID, ssid, reasonExpired, nil)
	}
	next := newRecord(pair, user, rec.Meta, s.now())
	next.RotatedFrom = rec.SessionID

	if s.rotationCAS {
		err = s.sessions.Rotate(ctx, registry.RotateParams{Old: rec, PresentedJTI: presentedJTI, Next: next, TTL: ttl})
		switch {
		case errors.Is(err, registry.ErrSessionNotFound):
			// Another request with the same token rotated first. Its new
			// session stays; only a replay after rotation revokes lineage.
			return nil, s.reject(ctx, rec.UserID, ssid, reasonRaced, nil)
		case errors.Is(err, registry.ErrRotationConflict):
			s.revokeSession(ctx, rec, reasonJTIMismatch)
			return nil, s.reject(ctx, rec.UserID, ssid, reasonJTIMismatch, nil)
		case err != nil:
			return nil, s.reject(ctx, rec.UserID, ssid, reasonPersist, err)
		}
	} else if err := s.swap(ctx, rec, next, ttl); err != nil {
		return nil, s.reject(ctx, rec.UserID, ssid, reasonPersist, err)
	}

	s.logger.DebugContext(ctx, "session rotated",
		logging.UserID(user.ID), logging.SessionID(ssid), slog.String("new_session_id", pair.SessionID))
	s.audit.LogEvent(ctx, audit.Event{
		Action:    audit.ActionRefresh,
		UserID:    user.ID,
		SessionID: pair.SessionID,
		Attrs:     map[string]string{"rotated_from": ssid},
	})
	s.metrics.Refresh(ctx, authotel.OutcomeSuccess)
	return &AuthResult{AccessToken: pair.Access, RefreshToken: pair.Refresh, SessionID: pair.SessionID, User: user}, nil
}

// liveUser loads the user a rotation is issued for. A cached repository is
// bypassed so a deleted or deactivated account cannot keep refreshing.
func (s *AuthService) liveUser(ctx context.Context, id string) (*userdomain.User, error) {
	if f, ok := s.users.(freshUserFinder); ok {
		return f.FindByIDFresh(ctx, id)
	}
	return s.users.FindByID(ctx, id)
}

// swap persists next and logs out old concurrently. Only the save decides the
// outcome; a failed cleanup is logged since the old session can no longer
// rotate once its successor link exists.
func (s *AuthService) swap(ctx context.Context, old, next *sessiondomain.Record, ttl time.Duration) error {
	var g errgroup.Group
	g.Go(func() error {
		return s.sessions.SaveUserSession(ctx, registry.SaveParams{
			UserID:    next.UserID,
			SessionID: next.SessionID,
			Record:    next,
			TTL:       ttl,
		})
	})
	g.Go(func() error {
		if err := s.sessions.Logout(ctx, old.UserID, old.SessionID); err != nil {
			s.logger.WarnContext(ctx, "remove rotated session",
				logging.UserID(old.UserID), logging.SessionID(old.SessionID), logging.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := s.sessions.LinkSuccessor(ctx, old.SessionID, next.SessionID, ttl); err != nil {
		s.logger.WarnContext(ctx, "link rotated session",
			logging.SessionID(old.SessionID), logging.Error(err))
	}
	return nil
}

// revokeSession logs out rec after a failed check. Errors are logged; the
// caller rejects regardless.
func (s *AuthService) revokeSession(ctx context.Context, rec *sessiondomain.Record, reason string) {
	action, label := audit.ActionReuseDetected, "refresh_mismatch"
	if reason == reasonUserMissing || reason == reasonUserInactive {
		action, label = audit.ActionLogout, "user_unavailable"
	}
	if err := s.sessions.Logout(ctx, rec.UserID, rec.SessionID); err != nil {
		s.logger.ErrorContext(ctx, "revoke session",
			logging.UserID(rec.UserID), logging.SessionID(rec.SessionID), logging.Error(err))
		return
	}
	s.audit.LogEvent(ctx, audit.Event{
		Action:    action,
		UserID:    rec.UserID,
		SessionID: rec.SessionID,
		Reason:    reason,
		Failure:   true,
	})
	s.metrics.SessionsRevoked(ctx, 1, label)
}

func (s *AuthService) revokeLineage(ctx context.Context, userID, ssid string) {
	revoked, err := s.sessions.RevokeLineage(ctx, ssid)
	if err != nil {
		s.logger.ErrorContext(ctx, "revoke rotated sessions",
			logging.UserID(userID), logging.SessionID(ssid), logging.Error(err))
	}
	if len(revoked) == 0 {
		return
	}
	s.logger.WarnContext(ctx, "refresh token replay revoked descendant sessions",
		logging.UserID(userID), logging.SessionID(ssid), logging.Count("revoked", len(revoked)))
	for _, id := range revoked {
		s.audit.LogEvent(ctx, audit.Event{
			Action:    audit.ActionReuseDetected,
			UserID:    userID,
			SessionID: id,
			Reason:    reasonReplay,
			Failure:   true,
			Attrs:     map[string]string{"replayed_session": ssid},
		})
	}
	s.metrics.SessionsRevoked(ctx, len(revoked), "refresh_replay")
	s.metrics.Refresh(ctx, authotel.OutcomeReuse)
}

// reject logs the internal reason and returns the uniform ErrInvalidToken.
func (s *AuthService) reject(ctx context.Context, userID, ssid, reason string, cause error) error {
	s.logger.WarnContext(ctx, "refresh rejected",
		logging.UserID(userID), logging.SessionID(ssid), logging.Reason(reason), logging.Error(cause))
	s.audit.LogEvent(ctx, audit.Event{
		Action:    audit.ActionRefreshFailure,
		UserID:    userID,
		SessionID: ssid,
		Reason:    reason,
		Failure:   true,
	})
	s.metrics.Refresh(ctx, authotel.OutcomeFailure)
	return ErrInvalidToken
}
