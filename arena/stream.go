package arena

import "sync"

// queued is one entry of a task stream: either a user task or a resume
// task pointing at a dormant dispatcher.
type queued struct {
	fn       Task
	sp       *SuspendPoint
	critical bool
}

// taskStream is a lane-partitioned FIFO. Lanes spread producers across
// independent locks; consumers scan all lanes from a random starting
// point, so no lane starves.
type taskStream struct {
	lanes []taskLane
}

type taskLane struct {
	mu    sync.Mutex
	items []queued
}

func newTaskStream(lanes int) *taskStream {
	return &taskStream{lanes: make([]taskLane, lanes)}
}

func (s *taskStream) push(t queued, lane int) {
	l := &s.lanes[lane%len(s.lanes)]
	l.mu.Lock()
	l.items = append(l.items, t)
	l.mu.Unlock()
}

func (s *taskStream) pop(start int) (queued, bool) {
	n := len(s.lanes)
	for i := 0; i < n; i++ {
		l := &s.lanes[(start+i)%n]
		l.mu.Lock()
		if len(l.items) != 0 {
			t := l.items[0]
			l.items[0] = queued{}
			l.items = l.items[1:]
			l.mu.Unlock()
			return t, true
		}
		l.mu.Unlock()
	}
	return queued{}, false
}
