package arena

import (
	"errors"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Submit after Close has begun draining.
var ErrClosed = errors.New("arena: closed")

// A Task is a unit of work executed by the arena's workers. The context
// is only valid until the function returns.
type Task func(tc *TaskContext)

type Option func(*Options)

type Options struct {
	Observer            Observer
	PanicHandler        func(recovered any)
	Lanes               int
	CoroutineCacheLimit int
	DisableResumable    bool
}

func defaultOptions(workers int) Options {
	return Options{
		Lanes:               workers,
		CoroutineCacheLimit: 2 * workers,
	}
}

// WithObserver attaches an observer to scheduling lifecycle events.
func WithObserver(obs Observer) Option { return func(o *Options) { o.Observer = obs } }

// WithPanicHandler contains task panics: the recovered value is handed to
// fn on the worker that ran the task, and the worker keeps going. Without
// a handler a task panic propagates and takes the process down.
func WithPanicHandler(fn func(recovered any)) Option {
	return func(o *Options) { o.PanicHandler = fn }
}

// WithLanes sets the number of queue lanes per task stream.
func WithLanes(n int) Option { return func(o *Options) { o.Lanes = n } }

// WithCoroutineCacheLimit caps how many idle coroutine dispatchers are
// kept for reuse; overflow is retired instead of cached.
func WithCoroutineCacheLimit(n int) Option { return func(o *Options) { o.CoroutineCacheLimit = n } }

// WithoutResumableTasks disables dispatcher suspension for the arena.
// Suspend, Wait and SuspendPoint then fail with a panic on first use:
// blocking-via-coroutine is all-or-nothing, never silently degraded.
func WithoutResumableTasks() Option { return func(o *Options) { o.DisableResumable = true } }

// An Arena is a pool of worker threads, lane-partitioned task queues and
// a cache of reusable coroutine dispatchers. It stays alive while any
// external caller, worker, or suspended coroutine still holds a
// reference; Close blocks until the last of them is gone.
type Arena struct {
	lanes        int
	observer     Observer
	panicHandler func(any)
	noResumable  bool

	taskStream     *taskStream
	criticalStream *taskStream
	resumeStream   *taskStream
	cache          *dispatcherCache

	// refs counts external references: the creator, one per worker, and
	// one per live coroutine dispatcher. Zero opens the quiesced gate.
	refs    atomic.Int64
	pending atomic.Int64
	drain   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond

	quiesced  chan struct{}
	workerWG  sync.WaitGroup
	coWG      sync.WaitGroup
	closeOnce sync.Once
}

// New starts an arena with the given number of worker threads. If
// workers is not positive, runtime.GOMAXPROCS(0) workers are started.
func New(workers int, optFns ...Option) *Arena {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	opts := defaultOptions(workers)
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Lanes <= 0 {
		opts.Lanes = 1
	}

	a := &Arena{
		lanes:          opts.Lanes,
		observer:       opts.Observer,
		panicHandler:   opts.PanicHandler,
		noResumable:    opts.DisableResumable,
		taskStream:     newTaskStream(opts.Lanes),
		criticalStream: newTaskStream(opts.Lanes),
		resumeStream:   newTaskStream(opts.Lanes),
		cache:          &dispatcherCache{limit: opts.CoroutineCacheLimit},
		quiesced:       make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	a.refs.Store(int64(1 + workers))

	for i := 0; i < workers; i++ {
		ts := &threadState{id: i, arena: a}
		d := newDispatcher(a, true)
		ts.defaultDisp = d
		ts.attached = d
		d.thread = ts
		a.workerWG.Add(1)
		go a.workerLoop(ts)
	}
	return a
}

// Submit enqueues t for execution by the worker pool.
func (a *Arena) Submit(t Task) error {
	return a.submit(t, false)
}

// SubmitCritical enqueues t on the priority stream. Critical work is
// preferred over regular work by every dispatcher not already inside a
// critical task.
func (a *Arena) SubmitCritical(t Task) error {
	return a.submit(t, true)
}

func (a *Arena) submit(t Task, critical bool) error {
	if t == nil {
		return errors.New("arena: nil task")
	}
	if a.draining() {
		return ErrClosed
	}
	q := queued{fn: t, critical: critical}
	if critical {
		a.criticalStream.push(q, a.laneStart())
	} else {
		a.taskStream.push(q, a.laneStart())
	}
	a.advertiseNewWork()
	return nil
}

// Close releases the creator's reference and waits for the arena to
// quiesce: workers exited, every suspended coroutine cleaned up, the
// coroutine cache retired. All submitted work must have completed;
// closing with a task still parked on an unreleased WaitContext blocks
// forever.
func (a *Arena) Close() {
	a.closeOnce.Do(func() {
		a.drain.Store(true)
		a.wakeAll()
		a.releaseRef(1)
		<-a.quiesced
		for _, d := range a.cache.drainIdle() {
			close(d.sp.transfer)
		}
		a.workerWG.Wait()
		a.coWG.Wait()
	})
}

func (a *Arena) draining() bool {
	return a.drain.Load()
}

func (a *Arena) laneStart() int {
	return rand.IntN(a.lanes)
}

func (a *Arena) ensureResumable() {
	if a.noResumable {
		panic("arena: resumable tasks are disabled for this arena")
	}
}

// advertiseNewWork publishes one queued item and wakes a sleeping
// dispatcher. The pending count is raised before the signal so a waking
// consumer always observes it.
func (a *Arena) advertiseNewWork() {
	a.pending.Add(1)
	a.mu.Lock()
	a.cond.Signal()
	a.mu.Unlock()
}

func (a *Arena) wakeAll() {
	a.mu.Lock()
	a.cond.Broadcast()
	a.mu.Unlock()
}

func (a *Arena) retainRef(n int64) {
	a.refs.Add(n)
}

func (a *Arena) releaseRef(n int64) {
	r := a.refs.Add(-n)
	if r < 0 {
		panic("arena: reference count underflow")
	}
	if r == 0 {
		close(a.quiesced)
	}
}

// grabDispatcher obtains a coroutine-backed dispatcher from the cache or
// starts a fresh one. Either way the arena gains one reference, matched
// by the release in the coroutine's cleanup action: the arena cannot be
// torn down while it still owes a dormant coroutine a wake-up.
func (a *Arena) grabDispatcher() *dispatcher {
	d := a.cache.pop()
	reused := d != nil
	if d == nil {
		d = newDispatcher(a, false)
		a.coWG.Add(1)
		go d.coLoop()
	}
	a.retainRef(1)
	if obs := a.observer; obs != nil {
		obs.DispatcherSuspended(reused)
	}
	return d
}

func (a *Arena) cacheDispatcher(d *dispatcher) {
	if !a.cache.push(d) {
		// Cache full or closed: retire the goroutine.
		close(d.sp.transfer)
	}
}

func (a *Arena) workerLoop(ts *threadState) {
	defer a.workerWG.Done()
	d := ts.defaultDisp
	if obs := a.observer; obs != nil {
		obs.WorkerStarted(ts.id)
	}
	for {
		if d.thread.defaultDisp != d {
			// Displaced onto another worker's thread: park marked
			// recalled so the occupant of our own thread hands it back,
			// and let this thread's owner reclaim it the same way.
			d.resume(d.resumeTarget(), postResumeAction{kind: actionNotify, recalled: &d.sp.ownerRecalled})
			continue
		}
		t, ok := a.nextTask(d)
		if !ok {
			if a.draining() && d.thread.defaultDisp == d {
				break
			}
			continue
		}
		a.runTask(d, t)
	}
	if obs := a.observer; obs != nil {
		obs.WorkerStopped(ts.id)
	}
	a.releaseRef(1)
}

// nextTask pops runnable work for d, sleeping while there is none. The
// not-ok return means the loop state changed instead: the thread's owner
// was recalled, or the arena is draining while d holds its own thread.
func (a *Arena) nextTask(d *dispatcher) (queued, bool) {
	for {
		if t, ok := a.popAny(d); ok {
			return t, true
		}
		home := d.thread.defaultDisp
		if home != d && home.sp.ownerRecalled.Load() {
			return queued{}, false
		}
		if a.draining() && home == d {
			return queued{}, false
		}
		a.mu.Lock()
		for !a.runnable(d) {
			a.cond.Wait()
		}
		a.mu.Unlock()
	}
}

func (a *Arena) runnable(d *dispatcher) bool {
	if a.pending.Load() > 0 {
		return true
	}
	home := d.thread.defaultDisp
	if home != d && home.sp.ownerRecalled.Load() {
		return true
	}
	return a.draining() && home == d
}

func (a *Arena) popAny(d *dispatcher) (queued, bool) {
	start := a.laneStart()
	if d.criticalAllowed {
		if t, ok := a.criticalStream.pop(start); ok {
			a.pending.Add(-1)
			return t, true
		}
	}
	if t, ok := a.resumeStream.pop(start); ok {
		a.pending.Add(-1)
		return t, true
	}
	if t, ok := a.taskStream.pop(start); ok {
		a.pending.Add(-1)
		return t, true
	}
	return queued{}, false
}

func (a *Arena) runTask(d *dispatcher, t queued) {
	if t.sp != nil {
		// A resume task: switch into the dormant target. A default
		// executor goes dormant marked recalled so its own thread
		// reclaims it; a coroutine executor parks back into the cache.
		if obs := a.observer; obs != nil {
			obs.DispatcherResumed()
		}
		if d.outermost {
			d.resume(t.sp.owner, postResumeAction{kind: actionNotify, recalled: &d.sp.ownerRecalled})
		} else {
			d.resume(t.sp.owner, postResumeAction{kind: actionCleanup, cleanup: d})
		}
		return
	}

	tc := TaskContext{d: d, arena: a}
	obs := a.observer
	var start time.Time
	if obs != nil {
		start = time.Now()
	}
	if t.critical {
		d.criticalAllowed = false
	}
	// Restore dispatcher state and observer accounting whether the task
	// returns or panics; a panic is contained by the configured handler
	// or propagates after the restore.
	defer func() {
		if t.critical {
			d.criticalAllowed = true
		}
		r := recover()
		if obs != nil {
			obs.TaskExecuted(time.Since(start), r != nil)
		}
		if r != nil {
			if a.panicHandler == nil {
				panic(r)
			}
			a.panicHandler(r)
		}
	}()
	t.fn(&tc)
}
