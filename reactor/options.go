// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
//
// Functional options shared by every platform.

package reactor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/netdispatch/control"
)

// Defaults for a Loop.
const (
	DefaultMaxWait   = time.Second
	DefaultMaxEvents = 128
)

// Option configures a Loop.
type Option func(*options)

type options struct {
	maxWait   time.Duration
	maxEvents int
	logger    zerolog.Logger
}

func defaultOptions() options {
	return options{
		maxWait:   DefaultMaxWait,
		maxEvents: DefaultMaxEvents,
		logger:    log.Logger,
	}
}

// WithMaxWait bounds a single Dispatch wait. Non-positive values are ignored.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithMaxEvents sets how many readiness events one Dispatch collects.
func WithMaxEvents(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEvents = n
		}
	}
}

// WithLogger sets the logger used for loop diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// FromConfig translates the loop part of a control.Config into options.
func FromConfig(cfg control.Config) []Option {
	return []Option{WithMaxWait(cfg.MaxWait), WithMaxEvents(cfg.MaxEvents)}
}

// Group manufactures loops that all share one option set.
type Group struct {
	opts []Option
}

// NewGroup returns a Group applying opts to every loop it constructs.
func NewGroup(opts ...Option) *Group {
	return &Group{opts: opts}
}
