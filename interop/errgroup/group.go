// Package errgroup provides an adapter that mimics golang.org/x/sync/errgroup
// semantics on top of an arena. It enables incremental migration without
// pulling errgroup into the core library.
package errgroup

import (
	"context"
	"fmt"
	"sync"

	"github.com/NetPo4ki/go-arena/arena"
)

// Group is an errgroup-like wrapper that submits its functions to an
// arena instead of spawning a goroutine per call.
type Group struct {
	a   *arena.Arena
	wc  *arena.WaitContext
	lim arena.Limiter

	mu  sync.Mutex
	err error
}

// WithArena creates a Group whose functions run on a.
func WithArena(a *arena.Arena) *Group {
	return &Group{a: a, wc: arena.NewWaitContext(0)}
}

// SetLimit bounds how many functions the group keeps in flight at once.
// It must be called before the first Go.
func (g *Group) SetLimit(n int) {
	g.lim = arena.NewLimiter(n)
}

// Go submits f to the arena. The first non-nil error wins and is
// returned by Wait; later errors are dropped. A panic inside f is
// recovered and recorded as an error.
func (g *Group) Go(f func() error) {
	if f == nil {
		return
	}
	if g.lim != nil {
		if err := g.lim.Acquire(context.Background()); err != nil {
			g.record(err)
			return
		}
	}
	g.wc.Reserve(1)
	if err := g.a.Submit(func(_ *arena.TaskContext) {
		defer g.wc.Done()
		if g.lim != nil {
			defer g.lim.Release()
		}
		defer func() {
			if r := recover(); r != nil {
				g.record(fmt.Errorf("panic: %v", r))
			}
		}()
		if err := f(); err != nil {
			g.record(err)
		}
	}); err != nil {
		if g.lim != nil {
			g.lim.Release()
		}
		g.wc.Done()
		g.record(err)
	}
}

// Wait blocks until every submitted function has returned and reports
// the first error.
func (g *Group) Wait() error {
	_ = g.wc.Wait(context.Background())
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *Group) record(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
}
