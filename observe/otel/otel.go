package otel

import "time"

// Nop is a no-op implementation of the arena.Observer interface.
// It serves as a placeholder for an OpenTelemetry-backed observer without adding dependencies.
type Nop struct{}

// NewNop returns a no-op observer.
func NewNop() *Nop { return &Nop{} }

func (*Nop) WorkerStarted(int)                {}
func (*Nop) WorkerStopped(int)                {}
func (*Nop) TaskExecuted(time.Duration, bool) {}
func (*Nop) DispatcherSuspended(bool)         {}
func (*Nop) DispatcherResumed()               {}
