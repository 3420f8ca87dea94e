// Package ratelimit implements a fixed-window limiter over a shared counter
// store, with an in-memory fallback when the shared store is unreachable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the state of one window after an increment.
type Counter struct {
	Count   int64
	ResetAt time.Time
	Source  string
}

// Store increments the counter for key and returns it. The window starts at
// the first increment and lasts window; the store expires the key afterwards.
type Store interface {
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (Counter, error)
}

var ErrStoreUnavailable = errors.New("counter store unavailable")

// incrScript increments and arms the expiry in one round trip so concurrent
// callers never observe a counter without a TTL.
var incrScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if c == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

type RedisStore struct {
	rdb     *redis.Client
	timeout time.Duration
	now     func() time.Time
}

func NewRedisStore(rdb *redis.Client, timeout time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, timeout: timeout, now: time.Now}
}

func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, window time.Duration) (Counter, error) {
	if s.rdb == nil {
		return Counter{}, fmt.Errorf("%w: redis client is nil", ErrStoreUnavailable)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	vals, err := incrScript.Run(ctx, s.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, vals)
	}

	return Counter{
		Count:   vals[0],
		ResetAt: s.now().Add(time.Duration(vals[1]) * time.Millisecond),
		Source:  "redis",
	}, nil
}
