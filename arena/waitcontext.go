package arena

import (
	"context"
	"sync/atomic"
)

// Flag bits embedded in the low bits of the WaitContext reference word.
// The remaining bits count outstanding work units, so the hot
// decrement-to-zero path shares one atomic with the cold waiter-list lock.
const (
	lockFlag   uint64 = 1 << 0
	waiterFlag uint64 = 1 << 1
	countShift        = 2
)

const (
	versionLegacy = iota // single-waiter protocol, kept for compatibility
	versionList          // list-based waiter protocol
)

// A WaitContext tracks how many units of work remain before dependents may
// proceed. Tasks block on it with TaskContext.Wait, which suspends the
// running dispatcher instead of the worker thread; plain goroutines block
// on it with Wait.
//
// The zero value is not usable; create one with NewWaitContext.
type WaitContext struct {
	ref      atomic.Uint64
	waitHead *waitNode // guarded by lockFlag
	version  int
}

// NewWaitContext returns a WaitContext with n outstanding work units.
func NewWaitContext(n uint32) *WaitContext {
	wc := &WaitContext{version: versionList}
	wc.ref.Store(uint64(n) << countShift)
	return wc
}

func newLegacyWaitContext(n uint32) *WaitContext {
	wc := NewWaitContext(n)
	wc.version = versionLegacy
	return wc
}

// waitNode is an element of the intrusive wait list. A dispatcher waiter
// carries the suspend point of its frozen dispatcher and lives on the
// suspended frame itself; an external waiter carries a channel instead.
type waitNode struct {
	next *waitNode
	sp   *SuspendPoint
	done chan struct{}
}

func (n *waitNode) wake() {
	if n.sp != nil {
		Resume(n.sp)
		return
	}
	close(n.done)
}

// notifyAll wakes the detached chain headed by n. The next pointer is read
// before waking: resuming a dispatcher waiter unfreezes the frame its node
// lives on, after which the node must not be touched.
func (n *waitNode) notifyAll() {
	for n != nil {
		next := n.next
		n.wake()
		n = next
	}
}

func (wc *WaitContext) isLocked() bool {
	return wc.ref.Load()&lockFlag != 0
}

// lock busy-waits for exclusive access to the wait list. Expected hold
// times are a list splice; starvation under contention is acceptable.
func (wc *WaitContext) lock() {
	var b spinBackoff
	for {
		// Do not hammer fetch-or while another holder is visible.
		if !wc.isLocked() && wc.ref.Or(lockFlag)&lockFlag == 0 {
			return
		}
		b.pause()
	}
}

func (wc *WaitContext) unlock() {
	if !wc.isLocked() {
		panic("arena: unlock of unlocked WaitContext")
	}
	wc.ref.And(^lockFlag)
}

// Active reports whether outstanding work remains.
func (wc *WaitContext) Active() bool {
	return wc.ref.Load()>>countShift != 0
}

// Reserve adds n outstanding work units. Work must be reserved before the
// task that will release it is published, or the count can transit zero
// early and wake waiters.
func (wc *WaitContext) Reserve(n uint32) {
	wc.ref.Add(uint64(n) << countShift)
}

// Release removes n outstanding work units. The release that brings the
// count to zero notifies every registered waiter.
func (wc *WaitContext) Release(n uint32) {
	if n == 0 {
		return
	}
	delta := uint64(n) << countShift
	r := wc.ref.Add(^(delta - 1))
	if (r+delta)>>countShift < uint64(n) {
		panic("arena: WaitContext released more than reserved")
	}
	if r>>countShift != 0 {
		return
	}
	if r&waiterFlag == 0 {
		return
	}
	wc.notifyWaiters()
}

// Done removes a single outstanding work unit.
func (wc *WaitContext) Done() {
	wc.Release(1)
}

// publishWaitList tries to set waiterFlag, but only while outstanding work
// remains: setting it after the count reached zero would register a waiter
// on a promise that will never be kept.
func (wc *WaitContext) publishWaitList() bool {
	if !wc.isLocked() && wc.version != versionLegacy {
		panic("arena: publishing a wait list without holding the lock")
	}
	expected := wc.ref.Load()
	for expected&waiterFlag == 0 && expected>>countShift != 0 {
		if wc.ref.CompareAndSwap(expected, expected|waiterFlag) {
			expected |= waiterFlag
			break
		}
		expected = wc.ref.Load()
	}
	return expected&waiterFlag != 0
}

// tryRegisterWaiter links node into the wait list and publishes it.
// It reports false, leaving the list untouched, when the tracked work
// finished first; the caller must wake the waiter itself.
func (wc *WaitContext) tryRegisterWaiter(node *waitNode) bool {
	wc.lock()
	defer wc.unlock()
	if !wc.Active() {
		return false
	}
	node.next = wc.waitHead
	wc.waitHead = node
	if !wc.publishWaitList() {
		// The count raced to zero after the Active check; the pending
		// notification must not find this node.
		wc.waitHead = node.next
		return false
	}
	return true
}

func (wc *WaitContext) unregisterWaiter(node *waitNode) {
	wc.lock()
	defer wc.unlock()
	if wc.waitHead == node {
		wc.waitHead = node.next
		return
	}
	for n := wc.waitHead; n != nil; n = n.next {
		if n.next == node {
			n.next = node.next
			return
		}
	}
}

// NotifyWaiters wakes every registered waiter in one pass and clears the
// waiter flag. Any registration after this point starts a fresh list.
// Calling it with no registered waiters is a no-op beyond clearing the
// flag.
func (wc *WaitContext) NotifyWaiters() {
	if wc.version == versionLegacy {
		panic("arena: NotifyWaiters requires the list-based waiter protocol")
	}
	wc.notifyWaiters()
}

func (wc *WaitContext) notifyWaiters() {
	wc.lock()
	head := wc.waitHead
	wc.waitHead = nil
	wc.ref.And(^waiterFlag)
	wc.unlock()
	// Wake the detached chain outside the lock.
	if head != nil {
		head.notifyAll()
	}
}

// Wait blocks the calling goroutine until the outstanding work count
// reaches zero or ctx is done. Task code should prefer TaskContext.Wait,
// which suspends the dispatcher instead of blocking a worker thread.
func (wc *WaitContext) Wait(ctx context.Context) error {
	if !wc.Active() {
		return nil
	}
	node := &waitNode{done: make(chan struct{})}
	if !wc.tryRegisterWaiter(node) {
		return nil
	}
	select {
	case <-node.done:
		return nil
	case <-ctx.Done():
		wc.unregisterWaiter(node)
		select {
		case <-node.done:
			// Notified while cancelling; completion wins.
			return nil
		default:
		}
		return ctx.Err()
	}
}
