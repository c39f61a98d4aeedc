package repository

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-service/internal/kv"
	"auth-service/internal/user/domain"
)

type countingRepo struct {
	Repository
	byID atomic.Int32
}

func (c *countingRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	c.byID.Add(1)
	return c.Repository.FindByID(ctx, id)
}

func newCached(t *testing.T) (*CachedRepository, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := &countingRepo{Repository: NewMemoryRepository()}
	return NewCachedRepository(inner, kv.NewRedisStore(client), 5*time.Minute, nil), inner, mr
}

func TestCachedRepository_FindByIDCaches(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCached(t)
	_, err := repo.Save(ctx, newUser("u1", "a@b.com", "ab"))
	require.NoError(t, err)

	for range 3 {
		u, err := repo.FindByID(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "a@b.com", u.Email)
	}
	assert.Equal(t, int32(1), inner.byID.Load())
	assert.Equal(t, 5*time.Minute, mr.TTL("cache:user:u1"))

	raw, err := mr.Get("cache:user:u1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "hash", "password hash must not be cached")
}

func TestCachedRepository_SaveInvalidates(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCached(t)
	u := newUser("u1", "a@b.com", "ab")
	_, _ = repo.Save(ctx, u)
	_, _ = repo.FindByID(ctx, "u1")
	require.True(t, mr.Exists("cache:user:u1"))

	u.FirstName = "Ada"
	_, err := repo.Save(ctx, u)
	require.NoError(t, err)
	assert.False(t, mr.Exists("cache:user:u1"))

	got, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, int32(2), inner.byID.Load())
}

func TestCachedRepository_MissingUserNotCached(t *testing.T) {
	repo, _, mr := newCached(t)
	u, err := repo.FindByID(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.False(t, mr.Exists("cache:user:ghost"))
}

func TestCachedRepository_FindByEmailBypassesCache(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newCached(t)
	_, _ = repo.Save(ctx, newUser("u1", "a@b.com", "ab"))
	_, _ = repo.FindByID(ctx, "u1")

	u, err := repo.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "hash", u.PasswordHash)
}

func TestCachedRepository_FindByIDFreshSeesDeletion(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCached(t)
	_, _ = repo.Save(ctx, newUser("u1", "a@b.com", "ab"))
	_, _ = repo.FindByID(ctx, "u1")
	require.True(t, mr.Exists("cache:user:u1"))

	inner.Repository.(*MemoryRepository).Delete("u1")

	cached, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, cached, "cached read still serves the deleted user")

	fresh, err := repo.FindByIDFresh(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, fresh)
	assert.False(t, mr.Exists("cache:user:u1"))

	again, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCachedRepository_FindByIDFreshDropsInactive(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCached(t)
	u := newUser("u1", "a@b.com", "ab")
	_, _ = repo.Save(ctx, u)
	_, _ = repo.FindByID(ctx, "u1")

	u.IsActive = false
	_, err := inner.Save(ctx, u)
	require.NoError(t, err)
	require.True(t, mr.Exists("cache:user:u1"))

	fresh, err := repo.FindByIDFresh(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.False(t, fresh.IsActive)
	assert.False(t, mr.Exists("cache:user:u1"))
}

func TestCachedRepository_FindByIDFreshRefreshesEntry(t *testing.T) {
	ctx := context.Background()
	repo, inner, mr := newCached(t)
	u := newUser("u1", "a@b.com", "ab")
	_, _ = repo.Save(ctx, u)
	_, _ = repo.FindByID(ctx, "u1")

	u.FirstName = "Ada"
	_, err := inner.Save(ctx, u)
	require.NoError(t, err)

	fresh, err := repo.FindByIDFresh(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", fresh.FirstName)
	assert.Equal(t, int32(2), inner.byID.Load())

	cached, err := repo.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", cached.FirstName)
	assert.Equal(t, int32(2), inner.byID.Load())
	assert.Equal(t, 5*time.Minute, mr.TTL("cache:user:u1"))
}
