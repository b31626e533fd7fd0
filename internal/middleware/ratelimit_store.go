package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/charlesng35/animehub/internal/cache"
)

// sweepEvery bounds how many increments may pass before expired memory counters are dropped.
const sweepEvery = 1024

// RateStore counts hits per key inside fixed windows.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

type windowCounter struct {
	hits int
	ends time.Time
}

// memoryRateStore keeps counters in process. Expired entries are swept inline, so the store
// owns no goroutine and needs no Close.
type memoryRateStore struct {
	mu       sync.Mutex
	counters map[string]windowCounter
	ops      int
	now      func() time.Time
}

// NewMemoryRateStore constructs a process-local RateStore for single-instance deployments
// and tests.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{counters: make(map[string]windowCounter), now: time.Now}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.ops >= sweepEvery {
		s.ops = 0
		for k, c := range s.counters {
			if !now.Before(c.ends) {
				delete(s.counters, k)
			}
		}
	}

	c, ok := s.counters[key]
	if !ok || !now.Before(c.ends) {
		c = windowCounter{ends: now.Add(window)}
	}
	c.hits++
	s.counters[key] = c
	return c.hits, c.ends.Sub(now), nil
}

// cacheRateStore keeps counters in the session store so every instance shares them.
type cacheRateStore struct {
	store cache.Store
}

// NewCacheRateStore wraps the shared cache (Redis or SQL) as a RateStore. It returns nil for a
// nil store so RateLimit falls back to memory.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &cacheRateStore{store: store}
}

func (s *cacheRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
