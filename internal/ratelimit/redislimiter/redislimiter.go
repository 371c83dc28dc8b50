// Package redislimiter implements domain.RateLimiter with a sliding-window
// algorithm backed by a Redis sorted set and an atomic Lua script, for
// rate-limiting broker calls across multiple cooperating vault CLI
// processes (grounded on the teacher's cache/redis rate limiter).
package redislimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opacitylabs/vault/internal/domain"
)

// slidingWindowLua trims entries older than the window, counts what
// remains, and — if under limit — records the new request, all atomically.
// KEYS[1] = sorted-set key, ARGV[1] = now (micros), ARGV[2] = window
// (micros), ARGV[3] = limit. Returns {allowed (0/1), count after the call}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. '-' .. math.random())
    redis.call('PEXPIRE', key, math.ceil(window / 1000) + 1000)
    return {1, count + 1}
end
return {0, count}
`

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a Redis-backed sliding
// window shared across processes.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// New builds a RateLimiter against an already-connected redis.Client.
func New(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb, slidingWindow: redis.NewScript(slidingWindowLua)}
}

func rateLimitKey(key string) string { return "vault:ratelimit:" + key }

// Allow checks whether a request for key is permitted under the sliding
// window of the given limit/window, counting the request if allowed.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()
	result, err := rl.slidingWindow.Run(
		ctx, rl.rdb, []string{rateLimitKey(key)},
		now, window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redislimiter: allow %s: %w", key, err)
	}
	if len(result) < 1 {
		return false, fmt.Errorf("redislimiter: allow %s: unexpected result shape", key)
	}
	return result[0] == 1, nil
}

// Wait blocks, polling at a fixed interval, until a request for key is
// allowed under a default limit of one request per second.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("redislimiter: wait %s: %w", key, ctx.Err())
		default:
		}

		allowed, err := rl.Allow(ctx, key, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redislimiter: wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
