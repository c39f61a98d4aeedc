package repository

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"auth-service/internal/kv"
	"auth-service/internal/logging"
	"auth-service/internal/user/domain"
)

const userCachePrefix = "cache:user:"

// CachedRepository caches FindByID results in the key-value store. Cached users
// carry no password hash, so credential checks must go through FindByEmail,
// which is never cached.
type CachedRepository struct {
	Repository
	store  kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps next. A non-positive ttl disables caching.
func NewCachedRepository(next Repository, store kv.Store, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	return &CachedRepository{Repository: next, store: store, ttl: ttl, logger: logging.OrNop(logger)}
}

func (c *CachedRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return kv.WithCache(ctx, c.store, userCachePrefix+id, c.ttl, func(ctx context.Context) (*domain.User, error) {
		return c.Repository.FindByID(ctx, id)
	})
}

// FindByIDFresh reads id from the underlying repository, bypassing the cache.
// The cached entry is replaced by the fresh read, or dropped when the user is
// gone or inactive.
func (c *CachedRepository) FindByIDFresh(ctx context.Context, id string) (*domain.User, error) {
	u, err := c.Repository.FindByID(ctx, id)
	if err != nil || c.store == nil || c.ttl <= 0 {
		return u, err
	}
	if u == nil || !u.IsActive {
		c.invalidate(ctx, id)
		return u, nil
	}
	if b, err := json.Marshal(u); err == nil {
		if err := c.store.Set(ctx, userCachePrefix+id, b, c.ttl); err != nil {
			c.logger.WarnContext(ctx, "refresh cached user", logging.UserID(id), logging.Error(err))
		}
	}
	return u, nil
}

// Save writes through and drops the cached entry.
func (c *CachedRepository) Save(ctx context.Context, u *domain.User) (*domain.User, error) {
	saved, err := c.Repository.Save(ctx, u)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, saved.ID)
	return saved, nil
}

func (c *CachedRepository) invalidate(ctx context.Context, id string) {
	if c.store == nil {
		return
	}
	if err := c.store.Del(ctx, userCachePrefix+id); err != nil {
		c.logger.WarnContext(ctx, "invalidate cached user", logging.UserID(id), logging.Error(err))
	}
}
