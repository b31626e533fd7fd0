package cache

import (
	"context"
	"time"
)

// Store is the key-value contract shared by the Redis and SQL backends. Expired keys behave
// as absent.
type Store interface {
	// IncrementWithTTL bumps the counter at key, starting a new window of the given length
	// when the key is absent or expired. It returns the new count and the time left.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// SortedSetStore adds the score-ordered sets that index a user's sessions.
type SortedSetStore interface {
	Store
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRange(ctx context.Context, key string, desc bool) ([]string, error)
	ZRem(ctx context.Context, key string, members ...string) error
	Ping(ctx context.Context) error
}

var (
	_ SortedSetStore = (*RedisStore)(nil)
	_ SortedSetStore = (*DatabaseStore)(nil)
)
