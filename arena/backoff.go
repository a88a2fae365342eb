package arena

import (
	"runtime"
	"time"
)

// yieldThreshold bounds the exponential phase of a spin wait; past it the
// backoff settles on short sleeps.
const yieldThreshold = 16

// spinBackoff paces a busy-wait on a lock expected to be held for
// microseconds. Each pause yields the processor a doubling number of
// times, then degrades to sleeping so a starved spinner does not burn a
// core.
type spinBackoff struct {
	count int
}

func (b *spinBackoff) pause() {
	if b.count == 0 {
		b.count = 1
	}
	if b.count <= yieldThreshold {
		for i := 0; i < b.count; i++ {
			runtime.Gosched()
		}
		b.count *= 2
		return
	}
	time.Sleep(time.Microsecond)
}
