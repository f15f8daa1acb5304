// Package cooldown enforces per-key cooldown windows, used to throttle the
// test-token faucet per recipient.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter grants at most one acquisition per key per ttl window.
type Limiter interface {
	// Acquire reports whether key was free. When it was not, retryAfter is the
	// remaining cooldown.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ok bool, retryAfter time.Duration, err error)
	// Release clears key so a failed operation does not consume the window.
	Release(ctx context.Context, key string) error
}

// =============================================================================
// Memory
// =============================================================================

// Memory is an in-process Limiter.
type Memory struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an in-memory limiter.
func NewMemory() *Memory {
	return &Memory{expires: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, held := m.expires[key]; held && now.Before(until) {
		return false, until.Sub(now), nil
	}
	m.expires[key] = now.Add(ttl)

	for k, until := range m.expires {
		if !now.Before(until) {
			delete(m.expires, k)
		}
	}
	return true, 0, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.expires, key)
	return nil
}

// =============================================================================
// Redis
// =============================================================================

// redisClient is the subset of redis.Cmdable used here.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a Limiter shared across gateway replicas.
type Redis struct {
	client redisClient
	prefix string
}

// NewRedis wraps a go-redis client. Keys are namespaced with prefix.
func NewRedis(client redis.Cmdable, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// NewRedisFromURL parses a redis:// URL.
func NewRedisFromURL(url, prefix string) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedis(client, prefix), client, nil
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	k := r.key(key)
	ok, err := r.client.SetNX(ctx, k, time.Now().UnixMilli(), ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown acquire: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	remaining, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown ttl: %w", err)
	}
	if remaining < 0 {
		// Key without expiry or already gone; report the full window.
		remaining = ttl
	}
	return false, remaining, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("cooldown release: %w", err)
	}
	return nil
}
