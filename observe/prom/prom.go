// Package prom exposes arena scheduling events as Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements the arena.Observer interface on top of Prometheus
// collectors.
type Metrics struct {
	workersActive prometheus.Gauge
	tasksExecuted prometheus.Counter
	tasksPanicked prometheus.Counter
	taskDuration  prometheus.Histogram
	suspensions   *prometheus.CounterVec
	resumes       prometheus.Counter
}

// New registers the arena collectors with reg and returns the observer.
// Pass prometheus.DefaultRegisterer to use the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arena_workers_active",
			Help: "Number of running worker threads.",
		}),
		tasksExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_tasks_executed_total",
			Help: "Total number of executed tasks.",
		}),
		tasksPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_tasks_panicked_total",
			Help: "Total number of tasks that panicked.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_task_duration_seconds",
			Help:    "Task execution durations.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		suspensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_dispatcher_suspensions_total",
			Help: "Dispatcher suspensions by coroutine origin.",
		}, []string{"coroutine"}),
		resumes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arena_dispatcher_resumes_total",
			Help: "Total number of dispatcher resumes.",
		}),
	}
	reg.MustRegister(m.workersActive, m.tasksExecuted, m.tasksPanicked, m.taskDuration, m.suspensions, m.resumes)
	return m
}

// WorkerStarted records a worker thread entering its loop.
func (m *Metrics) WorkerStarted(_ int) {
	m.workersActive.Inc()
}

// WorkerStopped records a worker thread exiting.
func (m *Metrics) WorkerStopped(_ int) {
	m.workersActive.Dec()
}

// TaskExecuted records one executed task and its duration.
func (m *Metrics) TaskExecuted(dur time.Duration, panicked bool) {
	m.tasksExecuted.Inc()
	if panicked {
		m.tasksPanicked.Inc()
	}
	m.taskDuration.Observe(dur.Seconds())
}

// DispatcherSuspended records a suspension, labelled by whether the
// coroutine that took over came from the cache.
func (m *Metrics) DispatcherSuspended(reused bool) {
	if reused {
		m.suspensions.WithLabelValues("reused").Inc()
	} else {
		m.suspensions.WithLabelValues("fresh").Inc()
	}
}

// DispatcherResumed records a suspended dispatcher being continued.
func (m *Metrics) DispatcherResumed() {
	m.resumes.Inc()
}
