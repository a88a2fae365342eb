package arena

import "sync/atomic"

// threadState models one execution thread of the arena. The identity is
// virtual: whichever dispatcher goroutine holds the state is "the thread".
// Exactly one dispatcher is attached at a time, and the fields are only
// mutated by the goroutine currently holding the state, so none of them
// need synchronization.
type threadState struct {
	id          int
	arena       *Arena
	defaultDisp *dispatcher // the dispatcher this thread was born with
	attached    *dispatcher
}

func (ts *threadState) attach(d *dispatcher) {
	if ts.attached != nil {
		panic("arena: thread already has an attached dispatcher")
	}
	ts.attached = d
}

func (ts *threadState) detach(d *dispatcher) {
	if ts.attached != d {
		panic("arena: detaching a dispatcher that is not attached")
	}
	ts.attached = nil
}

type actionKind int8

const (
	actionNone actionKind = iota
	actionRegisterWaiter
	actionCallback
	actionCleanup
	actionNotify
)

// postResumeAction is the deferred work carried across a dispatcher
// switch and executed exactly once by the resumed side. It travels by
// value inside the switch token rather than through mutable per-thread
// storage, which makes the consume-exactly-once contract structural.
type postResumeAction struct {
	kind     actionKind
	wc       *WaitContext  // actionRegisterWaiter
	node     *waitNode     // actionRegisterWaiter
	callback SuspendFunc   // actionCallback
	sp       *SuspendPoint // actionCallback
	cleanup  *dispatcher   // actionCleanup
	recalled *atomic.Bool  // actionNotify
}

func (ts *threadState) runPostResumeAction(act postResumeAction) {
	switch act.kind {
	case actionRegisterWaiter:
		wc, node := act.wc, act.node
		if wc.version == versionLegacy {
			// Single-waiter compatibility protocol: the slot belongs to
			// the one registering flow, no lock involved.
			wc.waitHead = node
			if !wc.publishWaitList() {
				wc.waitHead = nil
				Resume(node.sp)
			}
			return
		}
		if !wc.tryRegisterWaiter(node) {
			// The tracked work finished before registration completed;
			// self-resume instead of parking forever.
			Resume(node.sp)
		}
	case actionCallback:
		act.callback(act.sp)
	case actionCleanup:
		// The coroutine behind act.cleanup is fully parked: release the
		// arena reference it held and cache it for reuse.
		ts.arena.releaseRef(1)
		ts.arena.cacheDispatcher(act.cleanup)
	case actionNotify:
		// The dormant dispatcher is ready to be reclaimed by its own
		// thread. It may be resumed and gone the instant this lands, so
		// do not touch it afterwards.
		act.recalled.Store(true)
		ts.arena.wakeAll()
	default:
		panic("arena: unknown post-resume action")
	}
}
