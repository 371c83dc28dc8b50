package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opacitylabs/vault/internal/domain"
)

// Handler processes one Action. It is called from the queue's single
// consumer goroutine, so handlers run strictly one at a time; a handler that
// needs its own parallelism (e.g. the upload pipeline's worker pool) opens
// it internally.
type Handler func(ctx context.Context, action Action) error

// Backing persists queued actions outside this process, letting several
// vault CLI processes share one action queue (spec.md 4.9's queue accessor,
// generalized for distributed use). internal/queue/redisqueue implements
// this against a Redis list.
type Backing interface {
	Push(ctx context.Context, action Action) error
	BlockingPop(ctx context.Context, timeout time.Duration) (Action, error)
}

// backingPollTimeout bounds each BlockingPop call so Run can still observe
// ctx cancellation promptly instead of blocking on the backing forever.
const backingPollTimeout = 5 * time.Second

// Queue is a deduplicated, FIFO action queue with a single blocking-receive
// consumer goroutine — no poll-sleep loop. Actions either sit in an
// in-memory buffered channel, or — when backing is set — are pushed to and
// popped from a shared external store so multiple processes can drain the
// same queue.
type Queue struct {
	items   chan Action
	handler Handler
	logger  *slog.Logger
	backing Backing

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds a Queue backed by an in-memory buffered channel.
func New(buffer int, handler Handler, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		items:    make(chan Action, buffer),
		handler:  handler,
		logger:   logger.With(slog.String("component", "queue")),
		inFlight: make(map[string]bool),
	}
}

// NewDistributed builds a Queue whose actions are pushed to and popped from
// backing instead of a local channel, so several processes pointed at the
// same backing (e.g. the same Redis instance) drain one shared queue.
func NewDistributed(backing Backing, handler Handler, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		handler:  handler,
		logger:   logger.With(slog.String("component", "queue")),
		backing:  backing,
		inFlight: make(map[string]bool),
	}
}

// Enqueue adds action to the queue unless an action with the same Key is
// already queued or being processed, in which case it is silently dropped
// and Enqueue returns false. With a Backing configured, the push goes to
// the shared store instead of the local channel.
func (q *Queue) Enqueue(action Action) bool {
	q.mu.Lock()
	if q.inFlight[action.Key()] {
		q.mu.Unlock()
		return false
	}
	q.inFlight[action.Key()] = true
	q.mu.Unlock()

	if q.backing != nil {
		if err := q.backing.Push(context.Background(), action); err != nil {
			q.logger.Error("backing push failed", slog.String("key", action.Key()), slog.String("error", err.Error()))
			q.mu.Lock()
			delete(q.inFlight, action.Key())
			q.mu.Unlock()
			return false
		}
		return true
	}

	q.items <- action
	return true
}

// Run is the queue's single consumer loop. With no Backing, it blocks on
// the channel receive (no polling); with a Backing, it blocks on repeated
// BlockingPop calls instead. Either way it exits when ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	if q.backing != nil {
		q.runDistributed(ctx)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-q.items:
			if !ok {
				return
			}
			q.dispatch(ctx, action)
		}
	}
}

func (q *Queue) runDistributed(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		action, err := q.backing.BlockingPop(ctx, backingPollTimeout)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // poll timeout, nothing queued
			}
			if ctx.Err() != nil {
				return
			}
			q.logger.ErrorContext(ctx, "backing pop failed", slog.String("error", err.Error()))
			continue
		}
		q.dispatch(ctx, action)
	}
}

func (q *Queue) dispatch(ctx context.Context, action Action) {
	if err := q.handler(ctx, action); err != nil {
		q.logger.ErrorContext(ctx, "action failed",
			slog.String("key", action.Key()),
			slog.String("error", err.Error()))
	}
	q.mu.Lock()
	delete(q.inFlight, action.Key())
	q.mu.Unlock()
}

// Close stops accepting new actions. With no Backing, Run drains any
// buffered actions before returning; with a Backing, Run simply exits on ctx
// cancellation, since the backing store outlives this process.
func (q *Queue) Close() {
	if q.backing == nil {
		close(q.items)
	}
}
