package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opacitylabs/vault/internal/domain"
)

// fakeBacking is an in-memory stand-in for redisqueue.Store, used to
// exercise Queue's distributed path without a real Redis instance.
type fakeBacking struct {
	mu    sync.Mutex
	items []Action
}

func (b *fakeBacking) Push(_ context.Context, a Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, a)
	return nil
}

func (b *fakeBacking) BlockingPop(_ context.Context, _ time.Duration) (Action, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, fmt.Errorf("fakeBacking: %w", domain.ErrNotFound)
	}
	a := b.items[0]
	b.items = b.items[1:]
	return a, nil
}

func TestEnqueueDedup(t *testing.T) {
	var mu sync.Mutex
	processed := 0
	release := make(chan struct{})

	q := New(4, func(ctx context.Context, a Action) error {
		mu.Lock()
		processed++
		mu.Unlock()
		<-release
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go q.Run(ctx)

	a := Upload{DestPath: "/", Name: "f.txt", LocalPath: "/tmp/f.txt"}
	if !q.Enqueue(a) {
		t.Fatalf("Enqueue: want true for first enqueue")
	}
	// give the consumer a moment to pick it up and mark it in-flight.
	time.Sleep(20 * time.Millisecond)
	if q.Enqueue(a) {
		t.Fatalf("Enqueue: want false while the same action is in flight")
	}
	close(release)
}

func TestRunProcessesActions(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	q := New(4, func(ctx context.Context, a Action) error {
		mu.Lock()
		seen = append(seen, a.Key())
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	go q.Run(ctx)

	q.Enqueue(Delete{FolderPath: "/", Name: "a", IsFolder: false})
	q.Enqueue(Move{SrcPath: "/a", DestPath: "/b", Name: "x"})

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 2 processed actions, got %d", len(seen))
}

func TestDistributedQueueDrainsBacking(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	backing := &fakeBacking{}
	q := NewDistributed(backing, func(ctx context.Context, a Action) error {
		mu.Lock()
		seen = append(seen, a.Key())
		mu.Unlock()
		return nil
	}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	go q.Run(ctx)

	if !q.Enqueue(Upload{DestPath: "/", Name: "a.txt", LocalPath: "/tmp/a.txt"}) {
		t.Fatalf("Enqueue: want true")
	}
	if q.Enqueue(Upload{DestPath: "/", Name: "a.txt", LocalPath: "/tmp/a.txt"}) {
		t.Fatalf("Enqueue: want false while the same action is in flight")
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 1 processed action via backing, got %d", len(seen))
}
