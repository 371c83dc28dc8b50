package ratelimit

import (
	"testing"
	"time"
)

func TestAllowRespectsBurst(t *testing.T) {
	tb := New(2, time.Second)
	ctx := t.Context()

	ok1, _ := tb.Allow(ctx, "k", 0, 0)
	ok2, _ := tb.Allow(ctx, "k", 0, 0)
	ok3, _ := tb.Allow(ctx, "k", 0, 0)

	if !ok1 || !ok2 {
		t.Fatalf("expected first two requests allowed, got %v %v", ok1, ok2)
	}
	if ok3 {
		t.Fatalf("expected third request to exceed burst of 2")
	}
}

func TestAllowRefillsOverTime(t *testing.T) {
	tb := New(1, 20*time.Millisecond)
	ctx := t.Context()

	ok1, _ := tb.Allow(ctx, "k", 0, 0)
	if !ok1 {
		t.Fatalf("expected first request allowed")
	}
	time.Sleep(30 * time.Millisecond)
	ok2, _ := tb.Allow(ctx, "k", 0, 0)
	if !ok2 {
		t.Fatalf("expected request allowed after refill window elapsed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	tb := New(1, time.Second)
	ctx := t.Context()

	okA, _ := tb.Allow(ctx, "a", 0, 0)
	okB, _ := tb.Allow(ctx, "b", 0, 0)
	if !okA || !okB {
		t.Fatalf("expected distinct keys to have independent budgets")
	}
}
