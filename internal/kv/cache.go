package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// WithCache returns the JSON value cached under key, or calls load and caches
// its result for ttl. The cache is best-effort: store failures fall through to
// load, and a nil result from load is never cached.
func WithCache[T any](ctx context.Context, s Store, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	if s == nil || ttl <= 0 {
		return load(ctx)
	}
	if b, err := s.Get(ctx, key); err == nil {
		var v T
		if jsonErr := json.Unmarshal(b, &v); jsonErr == nil {
			return &v, nil
		}
		_ = s.Del(ctx, key)
	} else if !errors.Is(err, ErrNotFound) && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	v, err := load(ctx)
	if err != nil || v == nil {
		return v, err
	}
	if b, err := json.Marshal(v); err == nil {
		_ = s.Set(ctx, key, b, ttl)
	}
	return v, nil
}
