package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return NewRedisStoreFromClient(client, "test"), server
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:abc", []byte("payload"), 1500*time.Millisecond))
	require.True(t, server.Exists("test:session:abc"))
	require.Equal(t, 1500*time.Millisecond, server.TTL("test:session:abc"))

	value, found, err := store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("payload"), value)

	require.NoError(t, store.Delete(ctx, "session:abc", "session:missing"))
	_, found, err = store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Second))
	server.FastForward(2 * time.Second)

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisStoreSortedSet(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "idx", 30, "c"))
	require.NoError(t, store.ZAdd(ctx, "idx", 10, "a"))
	require.NoError(t, store.ZAdd(ctx, "idx", 20, "b"))
	require.NoError(t, store.ZAdd(ctx, "idx", 40, "a"))

	asc, err := store.ZRange(ctx, "idx", false)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, asc)

	desc, err := store.ZRange(ctx, "idx", true)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "b"}, desc)

	require.NoError(t, store.ZRem(ctx, "idx", "c", "missing"))
	desc, err = store.ZRange(ctx, "idx", true)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, desc)

	require.NoError(t, store.Delete(ctx, "idx"))
	empty, err := store.ZRange(ctx, "idx", true)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRedisStoreIncrementWithTTL(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	count, _, err = store.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	server.FastForward(61 * time.Second)
	count, _, err = store.IncrementWithTTL(ctx, "rl:login", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	store, server := newTestRedisStore(t)
	server.Close()

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, store.Ping(context.Background()))
}

func TestRedisStoreKeepsKeysDistinct(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()

	first := "ratelimit:2001:db8::1:2|/api/auth/login"
	second := "ratelimit:2001:db8:1::2|/api/auth/login"

	count, _, err := store.IncrementWithTTL(ctx, first, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	count, _, err = store.IncrementWithTTL(ctx, second, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.True(t, server.Exists("test:"+first))
	require.True(t, server.Exists("test:"+second))
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	require.Error(t, err)
}
