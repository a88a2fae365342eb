package arena

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterNilForNonPositive(t *testing.T) {
	t.Parallel()
	if NewLimiter(0) != nil {
		t.Fatal("expected nil limiter for n=0")
	}
	if NewLimiter(-1) != nil {
		t.Fatal("expected nil limiter for n=-1")
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	t.Parallel()
	const limit = 4
	const tasks = 40
	a := New(8)
	defer a.Close()

	lim := NewLimiter(limit)
	wc := NewWaitContext(tasks)
	var cur, maxSeen atomic.Int64
	for i := 0; i < tasks; i++ {
		if err := lim.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		if err := a.Submit(func(_ *TaskContext) {
			defer wc.Done()
			defer lim.Release()
			c := cur.Add(1)
			for {
				m := maxSeen.Load()
				if c <= m || maxSeen.CompareAndSwap(m, c) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			cur.Add(-1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := wc.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := maxSeen.Load(); got > limit {
		t.Fatalf("observed concurrency %d exceeds limit %d", got, limit)
	}
}

func TestLimiterAcquireRespectsCancel(t *testing.T) {
	t.Parallel()
	lim := NewLimiter(1)
	if err := lim.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- lim.Acquire(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from cancelled acquire")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
	lim.Release()
}
