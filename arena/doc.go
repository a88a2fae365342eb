// Package arena implements the synchronization and execution core of a
// work-stealing task runtime. A WaitContext tracks completion of a group
// of tasks and lets any task block on it without blocking its worker
// thread; coroutine-backed dispatchers perform the actual thread hand-off
// so that "blocking" is always realized as suspend-and-reschedule.
package arena
