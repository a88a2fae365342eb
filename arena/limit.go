package arena

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many submissions a caller keeps in flight at once.
// The arena itself never throttles; limiting is opt-in at the call site.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// NewLimiter returns a Limiter admitting at most n holders, or nil when
// n is not positive.
func NewLimiter(n int) Limiter {
	if n <= 0 {
		return nil
	}
	return &semLimiter{sem: semaphore.NewWeighted(int64(n))}
}

type semLimiter struct {
	sem *semaphore.Weighted
}

func (l *semLimiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

func (l *semLimiter) Release() {
	l.sem.Release(1)
}
