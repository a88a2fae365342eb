package arena

import "sync"

// dispatcherCache keeps idle coroutine dispatchers for reuse, so a busy
// wait-heavy workload does not start a fresh goroutine per suspension.
type dispatcherCache struct {
	mu     sync.Mutex
	idle   []*dispatcher
	limit  int
	closed bool
}

func (c *dispatcherCache) pop() *dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.idle)
	if n == 0 {
		return nil
	}
	d := c.idle[n-1]
	c.idle[n-1] = nil
	c.idle = c.idle[:n-1]
	return d
}

// push returns false when the dispatcher was not cached and the caller
// must retire it.
func (c *dispatcherCache) push(d *dispatcher) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.idle) >= c.limit {
		return false
	}
	c.idle = append(c.idle, d)
	return true
}

// drainIdle closes the cache and hands back everything parked in it.
func (c *dispatcherCache) drainIdle() []*dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	idle := c.idle
	c.idle = nil
	return idle
}
