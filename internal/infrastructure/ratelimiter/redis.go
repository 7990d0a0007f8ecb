package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/parley/internal/infrastructure/logging"
	"github.com/redis/go-redis/v9"
)

// slidingWindow keeps one sorted set per key holding the timestamps of the
// requests inside the window. It returns {allowed, retryAfterMillis}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local expiry = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)

local count = redis.call('ZCARD', key)
if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local retry = 0
    if oldest[2] then
        retry = math.ceil((tonumber(oldest[2]) + window - now) / 1000000)
    end
    return {0, retry}
end

redis.call('ZADD', key, now, now .. '-' .. count)
redis.call('EXPIRE', key, expiry)
return {1, 0}
`)

// RedisRateLimiter shares budgets between instances. When Redis is not
// reachable requests are let through.
type RedisRateLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	ttl    time.Duration
	prefix string
	logger logging.Logger
	now    func() time.Time
}

var _ Limiter = (*RedisRateLimiter)(nil)

func NewRedisRateLimiter(client redis.Scripter, limit int, window, ttl time.Duration, logger logging.Logger) *RedisRateLimiter {
	if ttl < window {
		ttl = window + time.Minute
	}
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		ttl:    ttl,
		prefix: "parley:ratelimit:",
		logger: logger,
		now:    time.Now,
	}
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	allowed, retryAfter, err := rl.check(ctx, key)
	if err != nil {
		rl.logger.Error(logging.Redis, logging.RateLimiting, "rate limit check failed", map[logging.ExtraKey]any{
			logging.Identity:     key,
			logging.ErrorMessage: err.Error(),
		})
		return true, 0
	}
	return allowed, retryAfter
}

func (rl *RedisRateLimiter) check(ctx context.Context, key string) (bool, time.Duration, error) {
	result, err := slidingWindow.Run(ctx, rl.client,
		[]string{rl.prefix + key},
		rl.now().UnixNano(),
		rl.window.Nanoseconds(),
		rl.limit,
		int(rl.ttl.Seconds()),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("rate limit script returned %d values", len(result))
	}
	return result[0] == 1, time.Duration(result[1]) * time.Millisecond, nil
}
