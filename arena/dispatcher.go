package arena

import (
	"runtime"
	"sync/atomic"
)

// SuspendFunc receives the suspend point of a dispatcher that just froze.
// The handle may travel to any goroutine and must be passed to Resume
// exactly once per suspension.
type SuspendFunc func(*SuspendPoint)

// A SuspendPoint identifies the frozen execution context of a suspended
// dispatcher. It is the only handle through which the dispatcher can be
// continued.
type SuspendPoint struct {
	arena *Arena
	owner *dispatcher

	// transfer is the coroutine context: handing a thread token to it
	// activates the owner exactly where it paused. Capacity one, because
	// a dormant dispatcher can have at most one transfer in flight.
	transfer chan switchToken

	// ownerRecalled marks a dormant dispatcher that is ready to run and
	// should be preferentially resumed by its own thread.
	ownerRecalled atomic.Bool
}

// switchToken is what actually crosses a context switch: the thread
// identity and the action the resumed side must run first.
type switchToken struct {
	thread *threadState
	action postResumeAction
}

// dispatcher is the unit of execution: either a thread's default
// dispatcher or a coroutine-backed one from the arena's cache. In this
// runtime a dispatcher is a goroutine; "running" means holding a thread
// token, "suspended" means parked on its transfer channel.
type dispatcher struct {
	sp    *SuspendPoint
	arena *Arena

	// thread is valid only while running; it is written by the goroutine
	// itself on every switch.
	thread *threadState

	// outermost marks a thread's original dispatcher, as opposed to a
	// coroutine-backed one.
	outermost bool

	// criticalAllowed is cleared while the dispatcher executes a critical
	// task; resume tasks targeting it are then critical themselves.
	criticalAllowed bool
}

func newDispatcher(a *Arena, outermost bool) *dispatcher {
	d := &dispatcher{arena: a, outermost: outermost, criticalAllowed: true}
	d.sp = &SuspendPoint{
		arena:    a,
		owner:    d,
		transfer: make(chan switchToken, 1),
	}
	return d
}

// suspend freezes d and hands its thread to another dispatcher, carrying
// act across the switch. The target is the thread's default dispatcher
// when that one has been recalled, otherwise a cached or fresh coroutine.
func (d *dispatcher) suspend(act postResumeAction) {
	target := d.resumeTarget()
	d.resume(target, act)
	if d.outermost {
		d.recallPoint()
	}
}

func (d *dispatcher) resumeTarget() *dispatcher {
	home := d.thread.defaultDisp
	if home != d && home.sp.ownerRecalled.Load() {
		return home
	}
	return d.arena.grabDispatcher()
}

// resume transfers the thread to target and parks d. The caller's frame
// stays frozen, not destroyed, until another flow hands a thread back
// through d's suspend point; locals below this call remain reachable for
// exactly that long.
func (d *dispatcher) resume(target *dispatcher, act postResumeAction) {
	if target == d {
		panic("arena: dispatcher cannot resume into itself")
	}
	if act.kind == actionNone {
		panic("arena: dispatcher switch without a post-resume action")
	}
	ts := d.thread
	ts.detach(d)
	d.thread = nil
	target.sp.transfer <- switchToken{thread: ts, action: act}
	// Control continues here only when d itself is resumed, possibly on a
	// different thread than the one it just gave away.
	d.park()
}

// park blocks until a thread token is handed to d, attaches it, and runs
// the post-resume action carried with the transfer. A closed transfer
// channel retires the dispatcher's goroutine.
func (d *dispatcher) park() {
	tok, ok := <-d.sp.transfer
	if !ok {
		runtime.Goexit()
	}
	d.thread = tok.thread
	tok.thread.attach(d)
	tok.thread.runPostResumeAction(tok.action)
	if tok.thread.defaultDisp == d {
		d.sp.ownerRecalled.Store(false)
	}
}

// recallPoint returns a displaced dispatcher to its own thread before
// control goes back to the caller. A dispatcher that wakes on a foreign
// thread parks itself marked recalled and whichever dispatcher holds its
// home thread hands the token back; a recalled-park is only ever woken by
// that handback, so the loop runs at most twice. Only outermost
// dispatchers pass through here.
func (d *dispatcher) recallPoint() {
	for d.thread.defaultDisp != d {
		d.resume(d.resumeTarget(), postResumeAction{kind: actionNotify, recalled: &d.sp.ownerRecalled})
	}
}

// coLoop is the body of a coroutine-backed dispatcher. It parks until a
// suspending flow activates it, then executes tasks until the thread's
// owner wants the thread back, at which point the coroutine parks into
// the arena's cache and waits for reuse.
func (d *dispatcher) coLoop() {
	defer d.arena.coWG.Done()
	d.park()
	for {
		home := d.thread.defaultDisp
		if home.sp.ownerRecalled.Load() {
			d.resume(home, postResumeAction{kind: actionCleanup, cleanup: d})
			continue
		}
		t, ok := d.arena.nextTask(d)
		if !ok {
			// Woken to re-evaluate the recall flag.
			continue
		}
		d.arena.runTask(d, t)
	}
}

// Resume schedules the suspended dispatcher behind sp to continue. It is
// safe to call from any goroutine, including ones outside the arena, and
// must be called exactly once per suspension.
//
// The target's memory is never touched after the enqueue: the queued
// resume task is the only remaining access point, and ownership of what
// happens next belongs to whichever thread executes it.
func Resume(sp *SuspendPoint) {
	a := sp.arena
	// Hold the arena while the wake is in flight so it cannot be torn
	// down between the enqueue and the pickup.
	a.retainRef(1)
	if sp.owner.criticalAllowed {
		a.resumeStream.push(queued{sp: sp}, a.laneStart())
	} else {
		// The target is inside a critical task, so its resume is too.
		a.criticalStream.push(queued{sp: sp, critical: true}, a.laneStart())
	}
	a.advertiseNewWork()
	a.releaseRef(1)
}

// TaskContext is handed to every executing task. It exposes the suspend
// and wait operations of the dispatcher currently running the task and is
// only valid for the duration of the task function.
type TaskContext struct {
	d     *dispatcher
	arena *Arena
}

// Arena returns the arena executing the task.
func (tc *TaskContext) Arena() *Arena {
	return tc.arena
}

// SuspendPoint returns the suspend point of the dispatcher running the
// task, for callers that coordinate their own suspension.
func (tc *TaskContext) SuspendPoint() *SuspendPoint {
	tc.arena.ensureResumable()
	return tc.d.sp
}

// Suspend freezes the calling task and hands its thread to another
// dispatcher. Once that dispatcher runs, it invokes fn with a handle that
// resumes the frozen task; Suspend returns when some thread executes the
// corresponding Resume.
func (tc *TaskContext) Suspend(fn SuspendFunc) {
	if fn == nil {
		panic("arena: nil suspend callback")
	}
	tc.arena.ensureResumable()
	d := tc.d
	d.suspend(postResumeAction{kind: actionCallback, callback: fn, sp: d.sp})
}

// Wait suspends the calling task until wc has no outstanding work. It
// returns immediately if the work already completed. The waiter is woken
// exactly once, by the release that brings the count to zero.
func (tc *TaskContext) Wait(wc *WaitContext) {
	tc.arena.ensureResumable()
	if !wc.Active() {
		return
	}
	d := tc.d
	// The node lives on this frame. The registering side runs after the
	// switch freezes the frame, and the frame stays frozen until the node
	// has been detached and woken, so the address stays valid throughout.
	node := waitNode{sp: d.sp}
	d.suspend(postResumeAction{kind: actionRegisterWaiter, wc: wc, node: &node})
}
