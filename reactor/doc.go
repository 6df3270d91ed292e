// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the poll-mode event loop behind a dispatcher
// thread: epoll readiness multiplexing, an eventfd interrupt, one-shot
// readiness callbacks, ordered asynchronous reads and writes per connection,
// and relative timers.
//
// A Loop is not safe for concurrent use. Only Interrupt may be called from
// another goroutine; everything else belongs to the goroutine that owns the
// loop, normally a dispatcher.Thread.
//
// Linux is the only supported platform; elsewhere New reports
// api.ErrNotSupported.
package reactor
