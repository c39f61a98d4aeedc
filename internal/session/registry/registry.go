// Package registry keeps session records and the per-user session index in the
// key-value store. It is the only coordination point between concurrent
// requests: there are no in-process locks.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"auth-service/internal/kv"
	"auth-service/internal/logging"
	"auth-service/internal/session/domain"
)

const (
	sessionKeyPrefix   = "session:user:"
	userIndexPrefix    = "auth:user:"
	tokenIndexPrefix   = "session:jti:"
	successorKeyPrefix = "session:next:"

	// maxLineageDepth bounds how many rotations RevokeLineage follows.
	maxLineageDepth = 32
	revokeWorkers   = 8
)

var (
	// ErrNonPositiveTTL is returned when a record would be written without a lifetime.
	ErrNonPositiveTTL = errors.New("registry: session ttl must be positive")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("registry: corrupt session record")
	// ErrSessionNotFound is returned by Rotate when the old session is gone.
	ErrSessionNotFound = errors.New("registry: session not found")
	// ErrRotationConflict is returned by Rotate when the old session's refresh
	// jti no longer matches the presented one.
	ErrRotationConflict = errors.New("registry: refresh token already rotated")
)

func sessionKey(ssid string) string  { return sessionKeyPrefix + ssid }
func userIndexKey(uid string) string { return userIndexPrefix + uid }
func tokenKey(jti string) string     { return tokenIndexPrefix + jti }
func successorKey(ssid string) string {
	return successorKeyPrefix + ssid
}

// Registry stores session records under session:user:<ssid>, the set of a
// user's session ids under auth:user:<userId>, and a jti to session id index
// under session:jti:<jti>.
type Registry struct {
	store   kv.Store
	logger  *slog.Logger
	onSweep func(ctx context.Context, removed int)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for best-effort cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithSweepObserver registers fn to receive the number of entries each
// RunSweeper pass removed.
func WithSweepObserver(fn func(ctx context.Context, removed int)) Option {
	return func(r *Registry) { r.onSweep = fn }
}

// New returns a Registry over store.
func New(store kv.Store, opts ...Option) *Registry {
	r := &Registry{store: store}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).With(logging.Component("session_registry"))
	return r
}

// Save upserts the record for ssid with the given lifetime and indexes its token ids.
func (r *Registry) Save(ctx context.Context, ssid string, rec *domain.Record, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}
	if rec == nil || ssid == "" {
		return errors.New("registry: session id and record are required")
	}
	rec.SessionID = ssid
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("registry: encode session: %w", err)
	}
	if err := r.store.Set(ctx, sessionKey(ssid), b, ttl); err != nil {
		return err
	}
	for _, jti := range rec.TokenIDs() {
		if err := r.store.Set(ctx, tokenKey(jti), []byte(ssid), ttl); err != nil {
			return err
		}
	}
	return nil
}

// AddUserSession adds ssid to the user's index.
func (r *Registry) AddUserSession(ctx context.Context, userID, ssid string) error {
	return r.store.SAdd(ctx, userIndexKey(userID), ssid)
}

// RemoveUserSession removes ssid from the user's index.
func (r *Registry) RemoveUserSession(ctx context.Context, userID, ssid string) error {
	return r.store.SRem(ctx, userIndexKey(userID), ssid)
}

// SaveParams describes a session to persist together with its index entry.
type SaveParams struct {
	UserID    string
	SessionID string
	Record    *domain.Record
	TTL       time.Duration
}

// SaveUserSession writes the record and the index entry concurrently. It fails
// if either write fails.
func (r *Registry) SaveUserSession(ctx context.Context, p SaveParams) error {
	if p.TTL <= 0 {
		return ErrNonPositiveTTL
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Save(gctx, p.SessionID, p.Record, p.TTL) })
	g.Go(func() error { return r.AddUserSession(gctx, p.UserID, p.SessionID) })
	return g.Wait()
}

// Get returns the record for ssid, or nil when the session does not exist.
func (r *Registry) Get(ctx context.Context, ssid string) (*domain.Record, error) {
	if ssid == "" {
		return nil, nil
	}
	b, err := r.store.Get(ctx, sessionKey(ssid))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decode(b)
}

func decode(b []byte) (*domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(b, &rec); err != nil || rec.SessionID == "" {
		return nil, ErrCorruptRecord
	}
	return &rec, nil
}

// Delete removes the record for ssid and its token index entries. Deleting an
// absent session is a no-op.
func (r *Registry) Delete(ctx context.Context, ssid string) error {
	keys := []string{sessionKey(ssid)}
	rec, err := r.Get(ctx, ssid)
	switch {
	case err != nil && !errors.Is(err, ErrCorruptRecord):
		return err
	case rec != nil:
		for _, jti := range rec.TokenIDs() {
			keys = append(keys, tokenKey(jti))
		}
	}
	return r.store.Del(ctx, keys...)
}

// ListUserRecords returns the live records in the user's index. Index members
// whose record has expired are pruned.
func (r *Registry) ListUserRecords(ctx context.Context, userID string) ([]*domain.Record, error) {
	ids, err := r.store.SMembers(ctx, userIndexKey(userID))
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	sort.Strings(ids)
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	var (
		out   []*domain.Record
		stale []string
	)
	for i, v := range values {
		if v == nil {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decode(v)
		if err != nil {
			r.logger.WarnContext(ctx, "skipping corrupt session record", logging.SessionID(ids[i]))
			continue
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := r.store.SRem(ctx, userIndexKey(userID), stale...); err != nil {
			r.logger.WarnContext(ctx, "prune user session index", logging.UserID(userID), logging.Error(err))
		}
	}
	return out, nil
}

// ListUserSessions returns the ids of the user's live sessions, sorted.
func (r *Registry) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	recs, err := r.ListUserRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.SessionID
	}
	return ids, nil
}

// CountActiveSessions returns the number of live sessions for the user.
func (r *Registry) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	recs, err := r.ListUserRecords(ctx, userID)
	return len(recs), err
}

// IsSessionValid reports whether a record exists for ssid.
func (r *Registry) IsSessionValid(ctx context.Context, ssid string) (bool, error) {
	rec, err := r.Get(ctx, ssid)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Logout deletes the session record and then removes it from the user's index.
// The record is always gone before the index entry disappears.
func (r *Registry) Logout(ctx context.Context, userID, ssid string) error {
	if err := r.Delete(ctx, ssid); err != nil {
		return err
	}
	return r.RemoveUserSession(ctx, userID, ssid)
}

// RevokeAllForUser deletes every session in one read of the user's index and
// removes those ids from it. A session indexed after that read is left in
// place. It returns the ids from the read that still had a record.
func (r *Registry) RevokeAllForUser(ctx context.Context, userID string) ([]string, error) {
	members, err := r.store.SMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, err
	}
	live := []string{}
	if len(members) == 0 {
		return live, nil
	}
	sort.Strings(members)
	keys := make([]string, len(members))
	for i, id := range members {
		keys[i] = sessionKey(id)
	}
	values, err := r.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if v != nil {
			live = append(live, members[i])
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revokeWorkers)
	for _, ssid := range members {
		g.Go(func() error { return r.Delete(gctx, ssid) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := r.store.SRem(ctx, userIndexKey(userID), members...); err != nil {
		return nil, err
	}
	return live, nil
}

// SessionForToken returns the live record owning jti, or nil when none does.
// Index entries that outlived or no longer match their session are dropped.
func (r *Registry) SessionForToken(ctx context.Context, jti string) (*domain.Record, error) {
	if jti == "" {
		return nil, nil
	}
	b, err := r.store.Get(ctx, tokenKey(jti))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := r.Get(ctx, string(b))
	if err != nil && !errors.Is(err, ErrCorruptRecord) {
		return nil, err
	}
	if rec == nil || (rec.AccessJTI != jti && rec.RefreshJTI != jti) {
		return nil, r.store.Del(ctx, tokenKey(jti))
	}
	return rec, nil
}

// RevokeByTokenID logs out the session owning jti and returns its id. It
// returns an empty id when no live session owns the token.
func (r *Registry) RevokeByTokenID(ctx context.Context, jti string) (string, error) {
	return r.revokeToken(ctx, jti, func(*domain.Record) bool { return true })
}

// RevokeUserToken is RevokeByTokenID limited to sessions of userID. A token
// owned by another user's session is left alone and yields an empty id.
func (r *Registry) RevokeUserToken(ctx context.Context, userID, jti string) (string, error) {
	if userID == "" {
		return "", nil
	}
	return r.revokeToken(ctx, jti, func(rec *domain.Record) bool { return rec.UserID == userID })
}

func (r *Registry) revokeToken(ctx context.Context, jti string, owned func(*domain.Record) bool) (string, error) {
	rec, err := r.SessionForToken(ctx, jti)
	if err != nil || rec == nil || !owned(rec) {
		return "", err
	}
	if err := r.Logout(ctx, rec.UserID, rec.SessionID); err != nil {
		return "", err
	}
	return rec.SessionID, nil
}
