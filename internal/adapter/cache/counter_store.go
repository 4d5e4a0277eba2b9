package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const counterPrefix = "ratelimit:"

// hitScript increments the counter and arms the window on first use, so
// the increment and the expiry land atomically.
var hitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisCounterStore implements fixed-window counters in Redis.
type RedisCounterStore struct {
	client redis.UniversalClient
}

var _ repository.CounterStore = (*RedisCounterStore)(nil)

// NewRedisCounterStore constructs a Redis-backed counter store.
func NewRedisCounterStore(client redis.UniversalClient) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Hit increments key inside its current window.
func (s *RedisCounterStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (domain.RateLimitCounter, bool, error) {
	if window <= 0 {
		window = time.Minute
	}
	res, err := hitScript.Run(ctx, s.client, []string{counterPrefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return domain.RateLimitCounter{}, false, fmt.Errorf("hit counter: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return domain.RateLimitCounter{}, false, fmt.Errorf("hit counter: unexpected reply %T", res)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = window.Milliseconds()
	}
	return domain.RateLimitCounter{
		Key:     key,
		Count:   int(count),
		ResetAt: now.Add(time.Duration(ttlMs) * time.Millisecond),
	}, count == 1, nil
}
