// File: fake/eventloop.go
// Author: momentics <momentics@gmail.com>
//
// Scriptable api.EventLoop. It records every call, completes reads from
// bytes fed by the test, and can hold writes in flight.

package fake

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/pool"
)

// ErrConcurrentUse is recorded when two goroutines enter the loop at once.
var ErrConcurrentUse = errors.New("fake: event loop entered concurrently")

// OpKind names a recorded call.
type OpKind string

const (
	OpTimer      OpKind = "timer"
	OpAddRead    OpKind = "add_read"
	OpAddWrite   OpKind = "add_write"
	OpCancel     OpKind = "cancel"
	OpRead       OpKind = "read"
	OpReadInto   OpKind = "read_into"
	OpWrite      OpKind = "write"
	OpWriteBlock OpKind = "write_block"
)

// Op is one recorded call.
type Op struct {
	Kind OpKind
	Conn api.Connection
	Seq  uint32
	Size int
	Data []byte // bytes handed to a write, copied at call time
}

type pendingWrite struct {
	conn  api.Connection
	block *pool.PinnedBlock
	cb    api.WriteCallback
}

type pendingRead struct {
	conn    api.Connection
	size    int
	block   *pool.PinnedBlock
	readCB  api.ReadCallback
	blockCB api.ReadBlockCallback
}

type pendingReady struct {
	conn api.Connection
	cb   api.ReadyCallback
}

type pendingTimer struct {
	at time.Time
	cb api.TimerCallback
}

// EventLoop is a fake api.EventLoop. Test-side accessors are safe for
// concurrent use; the api.EventLoop methods enforce single-goroutine use.
type EventLoop struct {
	maxWait time.Duration
	wake    chan struct{}

	inUse      atomic.Int32
	violations atomic.Int64
	interrupts atomic.Int64
	dispatches atomic.Int64
	holdWrites atomic.Bool

	mu       sync.Mutex
	ops      []Op
	inbound  map[int][]byte
	timers   []pendingTimer
	ready    []pendingReady
	reads    []*pendingRead
	writes   []*pendingWrite
	inFlight atomic.Int64
}

var _ api.EventLoop = (*EventLoop)(nil)

// NewEventLoop returns a loop whose Dispatch waits at most maxWait.
func NewEventLoop(maxWait time.Duration) *EventLoop {
	if maxWait <= 0 {
		maxWait = 10 * time.Millisecond
	}
	return &EventLoop{
		maxWait: maxWait,
		wake:    make(chan struct{}, 1),
		inbound: make(map[int][]byte),
	}
}

func (f *EventLoop) enter() func() {
	if !f.inUse.CompareAndSwap(0, 1) {
		f.violations.Add(1)
		return func() {}
	}
	return func() { f.inUse.Store(0) }
}

func (f *EventLoop) record(op Op) {
	f.mu.Lock()
	f.ops = append(f.ops, op)
	f.mu.Unlock()
}

// AddTimer implements api.EventLoop.
func (f *EventLoop) AddTimer(timeout time.Duration, cb api.TimerCallback) {
	defer f.enter()()
	f.record(Op{Kind: OpTimer, Size: int(timeout)})
	f.mu.Lock()
	f.timers = append(f.timers, pendingTimer{at: time.Now().Add(timeout), cb: cb})
	f.mu.Unlock()
}

// AddRead implements api.EventLoop. The callback fires on the next Dispatch.
func (f *EventLoop) AddRead(c api.Connection, cb api.ReadyCallback) {
	defer f.enter()()
	f.record(Op{Kind: OpAddRead, Conn: c})
	f.mu.Lock()
	f.ready = append(f.ready, pendingReady{conn: c, cb: cb})
	f.mu.Unlock()
}

// AddWrite implements api.EventLoop. The callback fires on the next Dispatch.
func (f *EventLoop) AddWrite(c api.Connection, cb api.ReadyCallback) {
	defer f.enter()()
	f.record(Op{Kind: OpAddWrite, Conn: c})
	f.mu.Lock()
	f.ready = append(f.ready, pendingReady{conn: c, cb: cb})
	f.mu.Unlock()
}

// Cancel implements api.EventLoop. Pending ready callbacks, reads and
// writes on c are dropped without firing.
func (f *EventLoop) Cancel(c api.Connection) {
	defer f.enter()()
	f.record(Op{Kind: OpCancel, Conn: c})
	f.mu.Lock()
	defer f.mu.Unlock()
	ready := f.ready[:0]
	for _, r := range f.ready {
		if r.conn.Fd() != c.Fd() {
			ready = append(ready, r)
		}
	}
	f.ready = ready
	reads := f.reads[:0]
	for _, r := range f.reads {
		if r.conn.Fd() == c.Fd() {
			r.block.Release()
			continue
		}
		reads = append(reads, r)
	}
	f.reads = reads
	writes := f.writes[:0]
	for _, w := range f.writes {
		if w.conn.Fd() == c.Fd() {
			w.block.Release()
			f.inFlight.Add(-1)
			continue
		}
		writes = append(writes, w)
	}
	f.writes = writes
}

// AsyncRead implements api.EventLoop.
func (f *EventLoop) AsyncRead(c api.Connection, seq uint32, size int, cb api.ReadCallback) {
	defer f.enter()()
	f.record(Op{Kind: OpRead, Conn: c, Seq: seq, Size: size})
	f.mu.Lock()
	f.reads = append(f.reads, &pendingRead{conn: c, size: size, readCB: cb})
	f.mu.Unlock()
}

// AsyncReadInto implements api.EventLoop.
func (f *EventLoop) AsyncReadInto(c api.Connection, seq uint32, size int, block *pool.PinnedBlock, cb api.ReadBlockCallback) {
	defer f.enter()()
	if !block.Valid() || block.Cap() < size {
		panic("fake: AsyncReadInto needs a valid block with capacity >= size")
	}
	f.record(Op{Kind: OpReadInto, Conn: c, Seq: seq, Size: size})
	f.mu.Lock()
	f.reads = append(f.reads, &pendingRead{conn: c, size: size, block: block, blockCB: cb})
	f.mu.Unlock()
}

// AsyncWrite implements api.EventLoop.
func (f *EventLoop) AsyncWrite(c api.Connection, seq uint32, buf pool.Buffer, cb api.WriteCallback) {
	defer f.enter()()
	if !buf.Valid() {
		panic("fake: AsyncWrite of invalid buffer")
	}
	f.record(Op{Kind: OpWrite, Conn: c, Seq: seq, Size: buf.Len(), Data: append([]byte(nil), buf.Bytes()...)})
	f.queueWrite(&pendingWrite{conn: c, cb: cb})
}

// AsyncWriteBlock implements api.EventLoop.
func (f *EventLoop) AsyncWriteBlock(c api.Connection, seq uint32, block *pool.PinnedBlock, cb api.WriteCallback) {
	defer f.enter()()
	if !block.Valid() {
		panic("fake: AsyncWriteBlock of invalid block")
	}
	f.record(Op{Kind: OpWriteBlock, Conn: c, Seq: seq, Size: block.Len(), Data: append([]byte(nil), block.Bytes()...)})
	f.queueWrite(&pendingWrite{conn: c, block: block, cb: cb})
}

func (f *EventLoop) queueWrite(w *pendingWrite) {
	f.mu.Lock()
	f.writes = append(f.writes, w)
	f.mu.Unlock()
	f.inFlight.Add(1)
}

// HasPendingWrites implements api.EventLoop.
func (f *EventLoop) HasPendingWrites() bool {
	defer f.enter()()
	return f.inFlight.Load() > 0
}

// Interrupt implements api.EventLoop. Safe from any goroutine; an interrupt
// with no Dispatch running is kept for the next one.
func (f *EventLoop) Interrupt() {
	f.interrupts.Add(1)
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Dispatch implements api.EventLoop. It waits for an interrupt, the next
// timer or maxWait, then completes ready callbacks, reads that have enough
// fed bytes, writes unless they are held, and expired timers. Callbacks run
// after the loop is left, so they may re-enter it.
func (f *EventLoop) Dispatch() {
	exit := f.enter()
	f.dispatches.Add(1)

	wait := f.maxWait
	f.mu.Lock()
	now := time.Now()
	for _, t := range f.timers {
		if d := t.at.Sub(now); d < wait {
			wait = d
		}
	}
	immediate := len(f.ready) > 0 || (len(f.writes) > 0 && !f.holdWrites.Load())
	f.mu.Unlock()
	if immediate || wait < 0 {
		wait = 0
	}

	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-f.wake:
		case <-t.C:
		}
		t.Stop()
	} else {
		select {
		case <-f.wake:
		default:
		}
	}

	var fire []func()
	f.mu.Lock()
	for _, r := range f.ready {
		fire = append(fire, func() { r.cb(r.conn) })
	}
	f.ready = nil

	reads := f.reads[:0]
	for _, r := range f.reads {
		data := f.inbound[r.conn.Fd()]
		if len(data) < r.size {
			reads = append(reads, r)
			continue
		}
		f.inbound[r.conn.Fd()] = data[r.size:]
		fire = append(fire, completeRead(r, data[:r.size]))
	}
	f.reads = reads

	if !f.holdWrites.Load() {
		for _, w := range f.writes {
			f.inFlight.Add(-1)
			fire = append(fire, func() {
				w.block.Release()
				if w.cb != nil {
					w.cb(w.conn, nil)
				}
			})
		}
		f.writes = nil
	}

	now = time.Now()
	timers := f.timers[:0]
	for _, t := range f.timers {
		if t.at.After(now) {
			timers = append(timers, t)
			continue
		}
		fire = append(fire, t.cb)
	}
	f.timers = timers
	f.mu.Unlock()
	exit()

	for _, fn := range fire {
		fn()
	}
}

func completeRead(r *pendingRead, data []byte) func() {
	if r.block != nil {
		return func() {
			r.block.SetLen(r.size)
			copy(r.block.Bytes(), data)
			if r.blockCB != nil {
				r.blockCB(r.conn, r.block, nil)
			} else {
				r.block.Release()
			}
		}
	}
	return func() {
		if r.readCB != nil {
			r.readCB(r.conn, pool.CopyBuffer(data), nil)
		}
	}
}

// Feed appends bytes that future reads on c consume.
func (f *EventLoop) Feed(c api.Connection, p []byte) {
	f.mu.Lock()
	f.inbound[c.Fd()] = append(f.inbound[c.Fd()], p...)
	f.mu.Unlock()
	f.Interrupt()
}

// HoldWrites keeps writes in flight until it is called with false.
func (f *EventLoop) HoldWrites(hold bool) {
	f.holdWrites.Store(hold)
	if !hold {
		f.Interrupt()
	}
}

// Ops returns a copy of the recorded calls in call order.
func (f *EventLoop) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Op(nil), f.ops...)
}

// InFlight returns the number of writes not yet completed.
func (f *EventLoop) InFlight() int { return int(f.inFlight.Load()) }

// Interrupts returns how many times Interrupt was called.
func (f *EventLoop) Interrupts() int64 { return f.interrupts.Load() }

// Dispatches returns how many times Dispatch was entered.
func (f *EventLoop) Dispatches() int64 { return f.dispatches.Load() }

// Violations returns how many calls overlapped with another call.
func (f *EventLoop) Violations() int64 { return f.violations.Load() }

// Group hands out a prepared loop, or an error.
type Group struct {
	Loop *EventLoop
	Err  error
}

// ConstructEventLoop implements api.Group.
func (g *Group) ConstructEventLoop() (api.EventLoop, error) {
	if g.Err != nil {
		return nil, g.Err
	}
	return g.Loop, nil
}
