// Package redisqueue backs queue.Queue with a Redis list so several vault
// CLI processes can share one action queue; BLPOP hands each pushed action
// to exactly one consumer. It also offers a Redis-based lock (grounded on
// the teacher's cache/redis lock pattern), which queue.Queue does not take.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/opacitylabs/vault/internal/domain"
	"github.com/opacitylabs/vault/internal/queue"
)

const listKey = "vault:queue:actions"

// unlockLua deletes a lock key only if its value matches the caller's
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Store persists queue.Action values to a Redis list and provides a
// distributed lock (AcquireLock) across processes. It satisfies
// queue.Backing, so queue.NewDistributed can drain it directly; that drain
// does not use the lock.
type Store struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

var _ queue.Backing = (*Store)(nil)

// New builds a Store against an already-connected redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, unlockSc: redis.NewScript(unlockLua)}
}

// wireAction is the JSON envelope an Action is serialized to on the list.
type wireAction struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Push serializes action and appends it to the shared list.
func (s *Store) Push(ctx context.Context, action queue.Action) error {
	var typ string
	switch action.(type) {
	case queue.Upload:
		typ = "upload"
	case queue.Delete:
		typ = "delete"
	case queue.Move:
		typ = "move"
	default:
		return fmt.Errorf("redisqueue: unknown action type %T", action)
	}
	body, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal action: %w", err)
	}
	raw, err := json.Marshal(wireAction{Type: typ, Body: body})
	if err != nil {
		return fmt.Errorf("redisqueue: marshal envelope: %w", err)
	}
	if err := s.rdb.RPush(ctx, listKey, raw).Err(); err != nil {
		return fmt.Errorf("redisqueue: push: %w", err)
	}
	return nil
}

// BlockingPop blocks (up to timeout, 0 means indefinitely) until an action
// is available, then returns it.
func (s *Store) BlockingPop(ctx context.Context, timeout time.Duration) (queue.Action, error) {
	result, err := s.rdb.BLPop(ctx, timeout, listKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("redisqueue: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("redisqueue: blpop: %w", err)
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("redisqueue: unexpected blpop result shape")
	}
	return decode([]byte(result[1]))
}

func decode(raw []byte) (queue.Action, error) {
	var env wireAction
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("redisqueue: decode envelope: %w", err)
	}
	switch env.Type {
	case "upload":
		var a queue.Upload
		if err := json.Unmarshal(env.Body, &a); err != nil {
			return nil, fmt.Errorf("redisqueue: decode upload: %w", err)
		}
		return a, nil
	case "delete":
		var a queue.Delete
		if err := json.Unmarshal(env.Body, &a); err != nil {
			return nil, fmt.Errorf("redisqueue: decode delete: %w", err)
		}
		return a, nil
	case "move":
		var a queue.Move
		if err := json.Unmarshal(env.Body, &a); err != nil {
			return nil, fmt.Errorf("redisqueue: decode move: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("redisqueue: unknown action type %q", env.Type)
	}
}

func lockKey(key string) string { return "vault:lock:" + key }

// AcquireLock obtains a distributed lock for key with the given ttl,
// returning an idempotent unlock closure on success and domain.ErrLockHeld
// if another holder already owns it.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := s.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.unlockSc.Run(unlockCtx, s.rdb, []string{lk}, token).Err()
	}
	return unlock, nil
}

var _ domain.LockManager = (*lockAdapter)(nil)

// lockAdapter adapts Store's concrete AcquireLock method to domain.LockManager.
type lockAdapter struct{ store *Store }

// NewLockManager wraps s as a domain.LockManager.
func NewLockManager(s *Store) domain.LockManager { return &lockAdapter{store: s} }

func (a *lockAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return a.store.AcquireLock(ctx, key, ttl)
}
