package domain

import (
	"context"
	"time"
)

// RateLimiter throttles outbound broker calls, either in-process or
// distributed across cooperating processes.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking across cooperating processes.
// redisqueue implements it; the queue and the session do not acquire it.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
