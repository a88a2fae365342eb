// Package otel provides an OpenTelemetry observer plugin for the arena library.
// It emits span events (worker start/stop, suspend, resume) with low overhead.
package otel
