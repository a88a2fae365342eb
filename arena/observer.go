package arena

import "time"

// Observer receives scheduling lifecycle events. Implementations must be
// safe for concurrent use; callbacks run inline on worker goroutines and
// should return quickly.
type Observer interface {
	WorkerStarted(id int)
	WorkerStopped(id int)
	TaskExecuted(dur time.Duration, panicked bool)
	DispatcherSuspended(reused bool)
	DispatcherResumed()
}
