// File: dispatcher/options.go
// Author: momentics <momentics@gmail.com>

package dispatcher

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/control"
)

// CPU selectors accepted by WithCPU.
const (
	// AutoCPU pins the thread to the last CPU the process may run on.
	AutoCPU = control.CPUAuto
	// NoAffinity leaves the thread unpinned.
	NoAffinity = control.CPUNone
)

// DefaultName is the thread name used when none is given.
const DefaultName = "dispatcher"

// Option configures a Thread.
type Option func(*options)

type options struct {
	name    string
	cpu     int
	logger  zerolog.Logger
	metrics *control.DispatcherMetrics
	probes  api.Debug
}

func defaultOptions() options {
	return options{
		name:   DefaultName,
		cpu:    AutoCPU,
		logger: log.Logger,
	}
}

// WithName sets the OS thread name and the label used in logs, metrics and
// probes. Linux truncates thread names to 15 bytes.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithCPU selects the CPU the thread is pinned to: a CPU index, AutoCPU or
// NoAffinity.
func WithCPU(cpu int) Option {
	return func(o *options) { o.cpu = cpu }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics reports job, interrupt and dispatch counters to m.
func WithMetrics(m *control.DispatcherMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithProbes registers the thread's state probes with dp. They are
// unregistered when the thread exits.
func WithProbes(dp api.Debug) Option {
	return func(o *options) { o.probes = dp }
}

// FromConfig translates the thread part of a control.Config into options.
func FromConfig(cfg control.Config) []Option {
	return []Option{WithName(cfg.ThreadName), WithCPU(cfg.CPU)}
}
