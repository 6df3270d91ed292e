// File: dispatcher/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Dispatcher thread: a goroutine locked to an OS thread that owns one event
// loop and executes jobs submitted from any goroutine.

package dispatcher

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/netdispatch/affinity"
	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/control"
	"github.com/momentics/netdispatch/core/concurrency"
	"github.com/momentics/netdispatch/pool"
)

// Thread owns an api.EventLoop and serializes every access to it.
// All methods are safe for concurrent use. Callbacks run on the dispatcher
// goroutine; Terminate and Close panic when called from there.
type Thread struct {
	name    string
	loop    api.EventLoop
	queue   *concurrency.BlockingQueue[*command]
	log     zerolog.Logger
	metrics *control.DispatcherMetrics
	probes  api.Debug
	cpu     int

	// busy is set while the dispatcher is in, or about to enter, Dispatch.
	busy atomic.Bool
	// wakePending is set once an interrupt was issued for the current wait.
	wakePending atomic.Bool
	terminate   atomic.Bool
	// tid is the OS thread id of the dispatcher goroutine while it runs.
	tid atomic.Int64

	// closeMu orders submissions against the final exit check. Submitters
	// hold it shared; the dispatcher takes it exclusively to set closed.
	closeMu sync.RWMutex
	closed  bool

	done    chan struct{}
	exitErr error
}

// New starts a dispatcher thread that takes ownership of loop. If loop
// implements io.Closer it is closed when the thread exits.
func New(loop api.EventLoop, opts ...Option) *Thread {
	if loop == nil {
		panic("dispatcher: nil event loop")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &Thread{
		name:    o.name,
		loop:    loop,
		queue:   concurrency.NewBlockingQueue[*command](),
		log:     o.logger.With().Str("component", "dispatcher").Str("thread", o.name).Logger(),
		metrics: o.metrics,
		probes:  o.probes,
		cpu:     o.cpu,
		done:    make(chan struct{}),
	}
	t.registerProbes()

	go t.run()
	return t
}

// NewFromGroup constructs the event loop through g and starts a thread on it.
func NewFromGroup(g api.Group, opts ...Option) (*Thread, error) {
	loop, err := g.ConstructEventLoop()
	if err != nil {
		return nil, fmt.Errorf("construct event loop: %w", err)
	}
	return New(loop, opts...), nil
}

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Done is closed once the dispatcher goroutine has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

// AddTimer registers a one-shot timer on the loop.
func (t *Thread) AddTimer(timeout time.Duration, cb api.TimerCallback) error {
	return t.submit(func() *command {
		return &command{kind: opTimer, timeout: timeout, timerCB: cb}
	})
}

// AddRead registers a one-shot readability callback for c.
func (t *Thread) AddRead(c api.Connection, cb api.ReadyCallback) error {
	mustConn(c)
	return t.submit(func() *command {
		return &command{kind: opAddRead, conn: c, readyCB: cb}
	})
}

// AddWrite registers a one-shot writability callback for c.
func (t *Thread) AddWrite(c api.Connection, cb api.ReadyCallback) error {
	mustConn(c)
	return t.submit(func() *command {
		return &command{kind: opAddWrite, conn: c, readyCB: cb}
	})
}

// Cancel drops every pending registration on c. It takes effect after all
// jobs submitted before it.
func (t *Thread) Cancel(c api.Connection) error {
	mustConn(c)
	return t.submit(func() *command {
		return &command{kind: opCancel, conn: c}
	})
}

// AsyncRead reads exactly size bytes from c.
func (t *Thread) AsyncRead(c api.Connection, seq uint32, size int, cb api.ReadCallback) error {
	mustConn(c)
	if size < 0 {
		panic("dispatcher: negative read size")
	}
	return t.submit(func() *command {
		return &command{kind: opRead, conn: c, seq: seq, size: size, readCB: cb}
	})
}

// AsyncReadInto reads exactly size bytes into block. The block is moved into
// the job; cb receives it back. It panics if block is invalid or smaller
// than size.
func (t *Thread) AsyncReadInto(c api.Connection, seq uint32, size int, block *pool.PinnedBlock, cb api.ReadBlockCallback) error {
	mustConn(c)
	if !block.Valid() {
		panic("dispatcher: AsyncReadInto with invalid block")
	}
	if size < 0 || block.Cap() < size {
		panic(fmt.Sprintf("dispatcher: block capacity %d below read size %d", block.Cap(), size))
	}
	return t.submit(func() *command {
		return &command{kind: opReadInto, conn: c, seq: seq, size: size, block: block.Move(), blockCB: cb}
	})
}

// AsyncWrite moves buf into a write job. It panics if buf is invalid.
// cb may be nil.
func (t *Thread) AsyncWrite(c api.Connection, seq uint32, buf *pool.Buffer, cb api.WriteCallback) error {
	mustConn(c)
	if buf == nil || !buf.Valid() {
		panic("dispatcher: AsyncWrite with invalid buffer")
	}
	return t.submit(func() *command {
		return &command{kind: opWrite, conn: c, seq: seq, buf: buf.Move(), writeCB: cb}
	})
}

// AsyncWriteTwo writes header then payload as one job, tagged seq and
// seq+1. Only the payload write reports to cb.
func (t *Thread) AsyncWriteTwo(c api.Connection, seq uint32, header *pool.Buffer, payload *pool.PinnedBlock, cb api.WriteCallback) error {
	mustConn(c)
	if header == nil || !header.Valid() {
		panic("dispatcher: AsyncWriteTwo with invalid header")
	}
	if !payload.Valid() {
		panic("dispatcher: AsyncWriteTwo with invalid payload")
	}
	return t.submit(func() *command {
		return &command{kind: opWriteTwo, conn: c, seq: seq, buf: header.Move(), block: payload.Move(), writeCB: cb}
	})
}

// AsyncWriteCopy writes a private copy of data.
func (t *Thread) AsyncWriteCopy(c api.Connection, seq uint32, data []byte, cb api.WriteCallback) error {
	buf := pool.CopyBuffer(data)
	return t.AsyncWrite(c, seq, &buf, cb)
}

// AsyncWriteString writes the bytes of s.
func (t *Thread) AsyncWriteString(c api.Connection, seq uint32, s string, cb api.WriteCallback) error {
	buf := pool.WrapBuffer([]byte(s))
	return t.AsyncWrite(c, seq, &buf, cb)
}

// Post runs fn on the dispatcher goroutine with the loop.
func (t *Thread) Post(fn func(loop api.EventLoop)) error {
	if fn == nil {
		panic("dispatcher: nil job")
	}
	return t.submit(func() *command {
		return &command{kind: opFunc, fn: fn}
	})
}

// Terminate asks the thread to stop once every queued job has run and the
// loop has no writes in flight, then waits for it. Further calls only wait.
// Calling it from a callback or job would wait on itself, so it panics.
func (t *Thread) Terminate() {
	if t.onDispatcher() {
		panic("dispatcher: Terminate called from the dispatcher goroutine")
	}
	if t.terminate.CompareAndSwap(false, true) {
		t.log.Debug().Msg("terminate requested")
		t.closeMu.RLock()
		if !t.closed {
			t.metrics.Interrupted()
			t.loop.Interrupt()
		}
		t.closeMu.RUnlock()
	}
	<-t.done
}

// Close terminates the thread and reports an unclean exit of its goroutine.
func (t *Thread) Close() error {
	t.Terminate()
	return t.exitErr
}

var _ io.Closer = (*Thread)(nil)

// onDispatcher reports whether the caller runs on the dispatcher goroutine.
// The goroutine keeps its OS thread locked, so no other goroutine shares
// that thread id while it runs.
func (t *Thread) onDispatcher() bool {
	tid := affinity.ThreadID()
	return tid != 0 && int64(tid) == t.tid.Load()
}

func mustConn(c api.Connection) {
	if c == nil {
		panic("dispatcher: nil connection")
	}
}

// submit enqueues the job made by build and wakes the dispatcher if it is
// waiting in Dispatch. build runs only when the job is accepted, so
// ownership moves only then.
func (t *Thread) submit(build func() *command) error {
	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		return ErrTerminated
	}
	t.queue.Emplace(build)
	t.wake()
	return nil
}

// wake interrupts Dispatch at most once per wait. A push seen after busy
// was cleared is picked up by the dispatcher's re-check instead.
func (t *Thread) wake() {
	if t.busy.Load() && t.wakePending.CompareAndSwap(false, true) {
		t.metrics.Interrupted()
		t.loop.Interrupt()
	}
}

func (t *Thread) run() {
	// The thread is renamed and pinned; it exits with the goroutine rather
	// than returning to the scheduler pool.
	runtime.LockOSThread()
	defer close(t.done)
	defer t.finish()

	t.setupThread()
	t.log.Debug().Msg("dispatcher started")

	for {
		t.drain()

		t.busy.Store(true)
		if cmd, ok := t.queue.TryPop(); ok {
			t.busy.Store(false)
			t.exec(cmd)
			continue
		}

		if t.terminate.Load() && !t.loop.HasPendingWrites() && t.tryClose() {
			t.busy.Store(false)
			return
		}

		t.metrics.SetQueueDepth(t.queue.Size())
		t.loop.Dispatch()
		t.metrics.Dispatched()
		t.busy.Store(false)
		t.wakePending.Store(false)
	}
}

func (t *Thread) setupThread() {
	t.tid.Store(int64(affinity.ThreadID()))
	if err := affinity.SetThreadName(t.name); err != nil {
		t.log.Warn().Err(err).Msg("set thread name")
	}
	cpu := t.cpu
	if cpu == AutoCPU {
		cpu = affinity.LastCPU()
	}
	if cpu == NoAffinity {
		return
	}
	if err := affinity.SetAffinity(cpu); err != nil {
		t.log.Warn().Err(err).Int("cpu", cpu).Msg("set thread affinity")
		return
	}
	t.log.Debug().Int("cpu", cpu).Msg("thread pinned")
}

func (t *Thread) drain() {
	for {
		cmd, ok := t.queue.TryPop()
		if !ok {
			return
		}
		t.exec(cmd)
	}
}

// exec runs one job; a panic is logged and counted, and the loop goes on.
func (t *Thread) exec(cmd *command) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.JobPanicked()
			t.log.Error().
				Str("op", cmd.kind.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job panicked")
		}
	}()
	cmd.run(t.loop)
	t.metrics.JobDone()
}

// tryClose marks the thread closed if no job slipped in since the last
// check. Submitters hold closeMu shared, so none can be mid-push here.
func (t *Thread) tryClose() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if !t.queue.Empty() {
		return false
	}
	t.closed = true
	return true
}

// finish runs on every exit path of the dispatcher goroutine.
func (t *Thread) finish() {
	if r := recover(); r != nil {
		t.exitErr = fmt.Errorf("dispatcher %s: event loop panicked: %v", t.name, r)
		t.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("dispatcher exited uncleanly")

		t.closeMu.Lock()
		t.closed = true
		t.closeMu.Unlock()
		for {
			cmd, ok := t.queue.TryPop()
			if !ok {
				break
			}
			cmd.discard()
		}
	}
	t.busy.Store(false)
	t.tid.Store(0)
	t.unregisterProbes()

	if c, ok := t.loop.(io.Closer); ok {
		if err := c.Close(); err != nil {
			t.log.Warn().Err(err).Msg("close event loop")
		}
	}
	t.log.Debug().Msg("dispatcher stopped")
}

func (t *Thread) registerProbes() {
	if t.probes == nil {
		return
	}
	t.probes.RegisterProbe(t.name+".queue_len", func() any { return t.queue.Size() })
	t.probes.RegisterProbe(t.name+".busy", func() any { return t.busy.Load() })
	t.probes.RegisterProbe(t.name+".terminating", func() any { return t.terminate.Load() })
}

func (t *Thread) unregisterProbes() {
	if t.probes == nil {
		return
	}
	t.probes.UnregisterProbe(t.name + ".queue_len")
	t.probes.UnregisterProbe(t.name + ".busy")
	t.probes.UnregisterProbe(t.name + ".terminating")
}
