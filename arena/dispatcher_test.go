package arena

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// countingObserver tallies lifecycle events for assertions.
type countingObserver struct {
	started   atomic.Int32
	stopped   atomic.Int32
	executed  atomic.Int32
	panicked  atomic.Int32
	fresh     atomic.Int32
	reused    atomic.Int32
	resumed   atomic.Int32
	execNanos atomic.Int64
}

func (o *countingObserver) WorkerStarted(int)  { o.started.Add(1) }
func (o *countingObserver) WorkerStopped(int)  { o.stopped.Add(1) }
func (o *countingObserver) DispatcherResumed() { o.resumed.Add(1) }

func (o *countingObserver) TaskExecuted(dur time.Duration, panicked bool) {
	o.executed.Add(1)
	if panicked {
		o.panicked.Add(1)
	}
	o.execNanos.Add(int64(dur))
}

func (o *countingObserver) DispatcherSuspended(reused bool) {
	if reused {
		o.reused.Add(1)
	} else {
		o.fresh.Add(1)
	}
}

func TestObserverWorkerLifecycle(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	a := New(3, WithObserver(obs))
	a.Close()
	if got := obs.started.Load(); got != 3 {
		t.Fatalf("started %d workers, want 3", got)
	}
	if got := obs.stopped.Load(); got != 3 {
		t.Fatalf("stopped %d workers, want 3", got)
	}
}

func TestObserverCountsExecutions(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	a := New(2, WithObserver(obs))
	defer a.Close()

	const N = 10
	wc := NewWaitContext(N)
	for i := 0; i < N; i++ {
		if err := a.Submit(func(_ *TaskContext) { wc.Done() }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := wc.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	// The last task's TaskExecuted fires after its release.
	waitCount(t, &obs.executed, N)
}

// waitCount polls c until it reaches want or the deadline passes.
func waitCount(t *testing.T, c *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Load() != want {
		if time.Now().After(deadline) {
			t.Fatalf("count stuck at %d, want %d", c.Load(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestObserverSeesPanickedTasks(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	a := New(1, WithObserver(obs), WithPanicHandler(func(any) {}))
	defer a.Close()

	outer := NewWaitContext(2)
	if err := a.Submit(func(_ *TaskContext) {
		defer outer.Done()
		panic("boom")
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := a.Submit(func(_ *TaskContext) { outer.Done() }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := outer.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	waitCount(t, &obs.executed, 2)
	waitCount(t, &obs.panicked, 1)
}

func TestDispatcherCacheReuse(t *testing.T) {
	t.Parallel()
	obs := &countingObserver{}
	a := New(1, WithObserver(obs))
	defer a.Close()

	// Two sequential suspensions on a single worker: the first grabs a
	// fresh coroutine, the second reuses it from the cache because the
	// cleanup that caches it runs before the suspended task continues.
	for i := 0; i < 2; i++ {
		outer := NewWaitContext(1)
		if err := a.Submit(func(tc *TaskContext) {
			defer outer.Done()
			tc.Suspend(func(sp *SuspendPoint) { Resume(sp) })
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := outer.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	if got := obs.fresh.Load(); got < 1 {
		t.Fatalf("fresh coroutine grabs %d, want at least 1", got)
	}
	if got := obs.reused.Load(); got < 1 {
		t.Fatalf("cache reuses %d, want at least 1", got)
	}
	if got := obs.resumed.Load(); got != 2 {
		t.Fatalf("resumes %d, want 2", got)
	}
}

func TestCacheLimitRetiresOverflow(t *testing.T) {
	t.Parallel()
	a := New(1, WithCoroutineCacheLimit(0))
	defer a.Close()

	// Every suspension must start a fresh coroutine and every cleanup
	// must retire it; goleak verifies nothing lingers after Close.
	for i := 0; i < 3; i++ {
		outer := NewWaitContext(1)
		if err := a.Submit(func(tc *TaskContext) {
			defer outer.Done()
			tc.Suspend(func(sp *SuspendPoint) { Resume(sp) })
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if err := outer.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
}

func TestSuspendPointHandleStable(t *testing.T) {
	t.Parallel()
	a := New(1)
	defer a.Close()

	outer := NewWaitContext(1)
	var first, second *SuspendPoint
	if err := a.Submit(func(tc *TaskContext) {
		defer outer.Done()
		first = tc.SuspendPoint()
		tc.Suspend(func(sp *SuspendPoint) { Resume(sp) })
		second = tc.SuspendPoint()
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := outer.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if first == nil || first != second {
		t.Fatalf("suspend point changed across a suspension: %p vs %p", first, second)
	}
}

func TestNilSuspendCallbackPanics(t *testing.T) {
	t.Parallel()
	a := New(1)
	defer a.Close()

	outer := NewWaitContext(1)
	panicked := make(chan bool, 1)
	if err := a.Submit(func(tc *TaskContext) {
		defer outer.Done()
		defer func() {
			panicked <- recover() != nil
		}()
		tc.Suspend(nil)
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := outer.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !<-panicked {
		t.Fatal("expected panic for nil suspend callback")
	}
}
