// Package guard implements the safety guards of the reliability layer:
// the cascade recursion guard and the fail-closed deletion guard.
package guard

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// CounterStore is the pluggable state behind the recursion guard and the
// search rate limiter. The in-memory implementation is correct for a
// single-instance handler pool only; multi-instance deployments must use
// the shared Redis implementation or accept best-effort guard accuracy.
type CounterStore interface {
	// Incr increments the counter at key and returns the new value. The
	// TTL is applied when the key is first created; an expired key counts
	// as absent.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryCounterStore is the process-local CounterStore.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryCounterStore creates an empty in-memory store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

// Incr implements CounterStore.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Opportunistic sweep on roughly 1 in 10 calls to bound memory.
	if rand.Intn(10) == 0 {
		for k, c := range s.counters {
			if now.After(c.expiresAt) {
				delete(s.counters, k)
			}
		}
	}

	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}

// Len reports the live entry count, for tests and diagnostics.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// redisIncrementer matches storage.Redis without importing it, keeping the
// guard package free of storage dependencies.
type redisIncrementer interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounterStore is the shared CounterStore for multi-instance
// deployments.
type RedisCounterStore struct {
	redis redisIncrementer
}

// NewRedisCounterStore wraps a Redis adapter as a CounterStore.
func NewRedisCounterStore(redis redisIncrementer) *RedisCounterStore {
	return &RedisCounterStore{redis: redis}
}

// Incr implements CounterStore.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.redis.IncrWithTTL(ctx, key, ttl)
}
