package registry

import (
	"context"
	"strings"
	"time"

	"auth-service/internal/logging"
)

const sweepBatch = 200

// SweepExpired scans every session key once and deletes entries that no longer
// materialize or do not decode. It also prunes user index members whose record
// is gone. TTL expiry itself is left to the store.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, sessionKeyPrefix+"*")
	if err != nil {
		return 0, err
	}
	removed := 0
	for start := 0; start < len(keys); start += sweepBatch {
		batch := keys[start:min(start+sweepBatch, len(keys))]
		values, err := r.store.MGet(ctx, batch...)
		if err != nil {
			return removed, err
		}
		var dead []string
		for i, v := range values {
			if v == nil {
				dead = append(dead, batch[i])
				continue
			}
			if _, err := decode(v); err != nil {
				dead = append(dead, batch[i])
			}
		}
		if len(dead) == 0 {
			continue
		}
		if err := r.store.Del(ctx, dead...); err != nil {
			return removed, err
		}
		removed += len(dead)
	}

	indexes, err := r.store.Keys(ctx, userIndexPrefix+"*")
	if err != nil {
		return removed, err
	}
	for _, key := range indexes {
		// ListUserRecords prunes stale members as a side effect.
		if _, err := r.ListUserRecords(ctx, strings.TrimPrefix(key, userIndexPrefix)); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. Sweep errors
// are logged and do not stop the loop.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			n, err := r.SweepExpired(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "session sweep failed", logging.Error(err))
				continue
			}
			r.logger.InfoContext(ctx, "session sweep complete", logging.Count("removed", n), logging.Elapsed(start))
			if r.onSweep != nil {
				r.onSweep(ctx, n)
			}
		}
	}
}
