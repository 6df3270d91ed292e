// File: api/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contracts between the dispatcher thread and the event loop it owns.

package api

import (
	"time"

	"github.com/momentics/netdispatch/pool"
)

// Connection is a network endpoint an event loop can multiplex.
type Connection interface {
	// Fd returns the non-blocking descriptor backing the connection.
	Fd() int
	// String returns a human-readable address used in logs.
	String() string
}

// TimerCallback fires once when a timer registered with AddTimer elapses.
type TimerCallback func()

// ReadyCallback fires once when a connection becomes readable or writable.
type ReadyCallback func(c Connection)

// ReadCallback receives the bytes of a completed AsyncRead, or the error
// that ended it.
type ReadCallback func(c Connection, buf pool.Buffer, err error)

// ReadBlockCallback receives ownership of the block handed to AsyncReadInto.
type ReadBlockCallback func(c Connection, block *pool.PinnedBlock, err error)

// WriteCallback fires once the bytes of an async write are fully written,
// or the write failed.
type WriteCallback func(c Connection, err error)

// EventLoop is a readiness-based I/O multiplexer with timers.
//
// Implementations are not safe for concurrent use. Every method except
// Interrupt must be called from the single goroutine that owns the loop.
type EventLoop interface {
	// AddTimer registers a one-shot timer relative to the loop's clock.
	AddTimer(timeout time.Duration, cb TimerCallback)

	// AddRead registers a one-shot readability callback.
	AddRead(c Connection, cb ReadyCallback)

	// AddWrite registers a one-shot writability callback.
	AddWrite(c Connection, cb ReadyCallback)

	// Cancel drops every pending registration on c without firing it.
	// Calling it on a connection with no pending work is a no-op.
	Cancel(c Connection)

	// AsyncRead reads exactly size bytes from c.
	AsyncRead(c Connection, seq uint32, size int, cb ReadCallback)

	// AsyncReadInto reads exactly size bytes into block. The loop owns the
	// block until cb returns it.
	AsyncReadInto(c Connection, seq uint32, size int, block *PinnedBlock, cb ReadBlockCallback)

	// AsyncWrite writes buf to c. Writes queued on one connection reach the
	// wire in registration order. cb may be nil.
	AsyncWrite(c Connection, seq uint32, buf pool.Buffer, cb WriteCallback)

	// AsyncWriteBlock writes block to c and releases it afterwards. Ordered
	// with AsyncWrite. cb may be nil.
	AsyncWriteBlock(c Connection, seq uint32, block *PinnedBlock, cb WriteCallback)

	// Dispatch waits for readiness once, bounded by the loop's own timeout
	// policy, and fires every callback that became ready.
	Dispatch()

	// HasPendingWrites reports whether any async write is still in flight.
	HasPendingWrites() bool

	// Interrupt makes a blocked Dispatch return promptly. It is safe to
	// call from any goroutine. An interrupt issued while Dispatch is not
	// running must make the next Dispatch return promptly instead.
	Interrupt()
}

// PinnedBlock is re-exported so contracts read without a pool prefix.
type PinnedBlock = pool.PinnedBlock

// Group manufactures event loops for a network topology.
type Group interface {
	ConstructEventLoop() (EventLoop, error)
}
