package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"auth-service/internal/kv"
	"auth-service/internal/logging"
	"auth-service/internal/session/domain"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRotated  int64 = 1
	rotateStatusConflict int64 = 2
	rotateStatusCorrupt  int64 = 3
)

// KEYS: 1 old session, 2 old user index, 3 new session, 4 new user index,
// 5 new access jti, 6 new refresh jti, 7 old access jti, 8 old refresh jti,
// 9 successor link of the old session.
// ARGV: 1 presented refresh jti, 2 new record, 3 ttl ms, 4 old ssid, 5 new ssid.
const rotateSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local ok, rec = pcall(cjson.decode, data)
if not ok or type(rec) ~= "table" then
  return 3
end
if rec["refreshJti"] ~= ARGV[1] then
  return 2
end
redis.call("SET", KEYS[3], ARGV[2], "PX", ARGV[3])
redis.call("SET", KEYS[5], ARGV[5], "PX", ARGV[3])
redis.call("SET", KEYS[6], ARGV[5], "PX", ARGV[3])
redis.call("SADD", KEYS[4], ARGV[5])
redis.call("SET", KEYS[9], ARGV[5], "PX", ARGV[3])
redis.call("DEL", KEYS[1], KEYS[7], KEYS[8])
redis.call("SREM", KEYS[2], ARGV[4])
return 1
`

var rotateSessionLua = redis.NewScript(rotateSessionScript)

// RotateParams describes one refresh rotation: the session being replaced, the
// refresh jti the caller presented for it, and the replacement record.
type RotateParams struct {
	Old          *domain.Record
	PresentedJTI string
	Next         *domain.Record
	TTL          time.Duration
}

func (p RotateParams) validate() error {
	if p.TTL <= 0 {
		return ErrNonPositiveTTL
	}
	if p.Old == nil || p.Next == nil || p.Next.SessionID == "" || p.PresentedJTI == "" {
		return errors.New("registry: rotation needs old and next records and a presented jti")
	}
	return nil
}

// Rotate atomically replaces the old session with the next one, provided the
// old record's refresh jti still equals the presented jti. It returns
// ErrRotationConflict when another rotation won and ErrSessionNotFound when the
// old session is already gone. The script's keys span hash slots, so it needs a
// standalone Redis.
func (r *Registry) Rotate(ctx context.Context, p RotateParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	next, err := json.Marshal(p.Next)
	if err != nil {
		return fmt.Errorf("registry: encode session: %w", err)
	}
	keys := []string{
		sessionKey(p.Old.SessionID),
		userIndexKey(p.Old.UserID),
		sessionKey(p.Next.SessionID),
		userIndexKey(p.Next.UserID),
		tokenKey(p.Next.AccessJTI),
		tokenKey(p.Next.RefreshJTI),
		tokenKey(p.Old.AccessJTI),
		tokenKey(p.PresentedJTI),
		successorKey(p.Old.SessionID),
	}
	res, err := r.store.Run(ctx, rotateSessionLua, keys,
		p.PresentedJTI,
		string(next),
		strconv.FormatInt(p.TTL.Milliseconds(), 10),
		p.Old.SessionID,
		p.Next.SessionID,
	)
	if err != nil {
		return err
	}
	code, ok := res.(int64)
	if !ok {
		return fmt.Errorf("%w: unexpected rotation result %T", kv.ErrUnavailable, res)
	}
	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrSessionNotFound
	case rotateStatusConflict:
		return ErrRotationConflict
	case rotateStatusCorrupt:
		return ErrCorruptRecord
	default:
		return fmt.Errorf("%w: unknown rotation status %d", kv.ErrUnavailable, code)
	}
}

// LinkSuccessor records that oldSSID was rotated into newSSID. The link lets a
// replayed refresh token of the old session find and revoke its descendants.
func (r *Registry) LinkSuccessor(ctx context.Context, oldSSID, newSSID string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}
	return r.store.Set(ctx, successorKey(oldSSID), []byte(newSSID), ttl)
}

// Successor returns the session oldSSID was rotated into, or "" when unknown.
func (r *Registry) Successor(ctx context.Context, oldSSID string) (string, error) {
	b, err := r.store.Get(ctx, successorKey(oldSSID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}

// RevokeLineage follows the rotation chain starting after ssid and logs out
// every live descendant. The successor links walked are removed. It returns
// the revoked session ids.
func (r *Registry) RevokeLineage(ctx context.Context, ssid string) ([]string, error) {
	var (
		revoked []string
		links   []string
	)
	seen := map[string]bool{ssid: true}
	cur := ssid
	for range maxLineageDepth {
		next, err := r.Successor(ctx, cur)
		if err != nil {
			return revoked, err
		}
		if next == "" || seen[next] {
			break
		}
		seen[next] = true
		links = append(links, successorKey(cur))
		rec, err := r.Get(ctx, next)
		if err != nil && !errors.Is(err, ErrCorruptRecord) {
			return revoked, err
		}
		if rec != nil {
			if err := r.Logout(ctx, rec.UserID, next); err != nil {
				return revoked, err
			}
			revoked = append(revoked, next)
		}
		cur = next
	}
	if len(links) > 0 {
		if err := r.store.Del(ctx, links...); err != nil {
			r.logger.WarnContext(ctx, "delete successor links", logging.SessionID(ssid), logging.Error(err))
		}
	}
	return revoked, nil
}
