package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewRedisStore(rdb, "test:")
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", "v1"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	ok, err := s.PutIfAbsent(ctx, "k", "v2", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.PutIfAbsent(ctx, "fresh", "v3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteIfEqual(ctx, "fresh", "other")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.DeleteIfEqual(ctx, "fresh", "v3")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.PutIfAbsent(ctx, "fresh", "v3", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	mr, s := newRedis(t)
	exerciseStore(t, s)
	assert.True(t, mr.Exists("test:fresh"))
}

func TestRedisStore_PutIfAbsentExpires(t *testing.T) {
	mr, s := newRedis(t)
	ctx := context.Background()

	ok, err := s.PutIfAbsent(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = s.PutIfAbsent(ctx, "lock", "b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_TTL(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.PutIfAbsent(ctx, "lock", "a", time.Second)
	require.True(t, ok)
	ok, _ = s.PutIfAbsent(ctx, "lock", "b", time.Second)
	require.False(t, ok)

	now = now.Add(time.Second)
	ok, _ = s.PutIfAbsent(ctx, "lock", "b", time.Second)
	assert.True(t, ok)
}
