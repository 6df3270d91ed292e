// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for one dispatcher thread. Every method tolerates a
// nil receiver so instrumented code needs no guards.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DispatcherMetrics tracks the activity of a dispatcher thread.
//
// All metrics carry a "thread" const label holding the thread name, so
// several dispatchers can share one registry.
type DispatcherMetrics struct {
	// JobsTotal counts jobs executed on the dispatcher thread.
	JobsTotal prometheus.Counter

	// JobPanicsTotal counts jobs that panicked and were recovered.
	JobPanicsTotal prometheus.Counter

	// InterruptsTotal counts wake-ups sent to a blocked event loop.
	InterruptsTotal prometheus.Counter

	// DispatchRoundsTotal counts readiness waits performed.
	DispatchRoundsTotal prometheus.Counter

	// QueueDepth is the job queue length seen before each readiness wait.
	QueueDepth prometheus.Gauge
}

// NewDispatcherMetrics creates and registers the collectors.
// Panics if registration fails (expected during initialization only).
func NewDispatcherMetrics(reg prometheus.Registerer, thread string) *DispatcherMetrics {
	labels := prometheus.Labels{"thread": thread}
	m := &DispatcherMetrics{
		JobsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netdispatch_jobs_total",
			Help:        "Jobs executed on the dispatcher thread",
			ConstLabels: labels,
		}),
		JobPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netdispatch_job_panics_total",
			Help:        "Jobs that panicked and were recovered",
			ConstLabels: labels,
		}),
		InterruptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netdispatch_interrupts_total",
			Help:        "Interrupts sent to a blocked event loop",
			ConstLabels: labels,
		}),
		DispatchRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "netdispatch_dispatch_rounds_total",
			Help:        "Readiness waits performed by the event loop",
			ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "netdispatch_queue_depth",
			Help:        "Job queue length seen before the last readiness wait",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.JobsTotal,
			m.JobPanicsTotal,
			m.InterruptsTotal,
			m.DispatchRoundsTotal,
			m.QueueDepth,
		)
	}
	return m
}

func (m *DispatcherMetrics) JobDone() {
	if m != nil {
		m.JobsTotal.Inc()
	}
}

func (m *DispatcherMetrics) JobPanicked() {
	if m != nil {
		m.JobPanicsTotal.Inc()
	}
}

func (m *DispatcherMetrics) Interrupted() {
	if m != nil {
		m.InterruptsTotal.Inc()
	}
}

func (m *DispatcherMetrics) Dispatched() {
	if m != nil {
		m.DispatchRoundsTotal.Inc()
	}
}

func (m *DispatcherMetrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
