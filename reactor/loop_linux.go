//go:build linux
// +build linux

// File: reactor/loop_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) event loop with an eventfd(2) interrupt.

package reactor

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/pool"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
)

type readOp struct {
	seq     uint32
	size    int
	n       int
	buf     []byte
	block   *pool.PinnedBlock
	readCB  api.ReadCallback
	blockCB api.ReadBlockCallback
}

type writeOp struct {
	seq   uint32
	data  []byte
	off   int
	block *pool.PinnedBlock
	cb    api.WriteCallback
}

// fdState holds every registration on one descriptor.
type fdState struct {
	conn    api.Connection
	fd      int
	onRead  []api.ReadyCallback
	onWrite []api.ReadyCallback
	reads   *queue.Queue // *readOp
	writes  *queue.Queue // *writeOp
	mask    uint32       // events currently registered with epoll, 0 if none
}

func (st *fdState) idle() bool {
	return len(st.onRead) == 0 && len(st.onWrite) == 0 &&
		st.reads.Length() == 0 && st.writes.Length() == 0
}

// Loop implements api.EventLoop on epoll.
type Loop struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
	fds    map[int]*fdState
	timers timerQueue

	pendingWrites int
	// deferred work runs at the end of the next Dispatch, which then does
	// not block.
	deferred []func()

	maxWait time.Duration
	log     zerolog.Logger
	closed  atomic.Bool
}

var _ api.EventLoop = (*Loop)(nil)

// New creates an epoll instance and its interrupt eventfd.
func New(opts ...Option) (*Loop, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}

	return &Loop{
		epfd:    epfd,
		wakefd:  wakefd,
		events:  make([]unix.EpollEvent, o.maxEvents),
		fds:     make(map[int]*fdState),
		maxWait: o.maxWait,
		log:     o.logger.With().Str("component", "reactor").Logger(),
	}, nil
}

// ConstructEventLoop implements api.Group.
func (g *Group) ConstructEventLoop() (api.EventLoop, error) {
	l, err := New(g.opts...)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loop) state(c api.Connection) *fdState {
	if c == nil {
		panic("reactor: nil connection")
	}
	fd := c.Fd()
	st, ok := l.fds[fd]
	if !ok {
		st = &fdState{conn: c, fd: fd, reads: queue.New(), writes: queue.New()}
		l.fds[fd] = st
	}
	return st
}

func (l *Loop) current(st *fdState) bool {
	return l.fds[st.fd] == st
}

// AddTimer implements api.EventLoop.
func (l *Loop) AddTimer(timeout time.Duration, cb api.TimerCallback) {
	l.timers.add(time.Now().Add(timeout), cb)
}

// AddRead implements api.EventLoop.
func (l *Loop) AddRead(c api.Connection, cb api.ReadyCallback) {
	st := l.state(c)
	st.onRead = append(st.onRead, cb)
	l.update(st)
}

// AddWrite implements api.EventLoop.
func (l *Loop) AddWrite(c api.Connection, cb api.ReadyCallback) {
	st := l.state(c)
	st.onWrite = append(st.onWrite, cb)
	l.update(st)
}

// AsyncRead implements api.EventLoop.
func (l *Loop) AsyncRead(c api.Connection, seq uint32, size int, cb api.ReadCallback) {
	l.enqueueRead(c, &readOp{seq: seq, size: size, buf: make([]byte, size), readCB: cb})
}

// AsyncReadInto implements api.EventLoop.
func (l *Loop) AsyncReadInto(c api.Connection, seq uint32, size int, block *pool.PinnedBlock, cb api.ReadBlockCallback) {
	if !block.Valid() || block.Cap() < size {
		panic("reactor: AsyncReadInto needs a valid block with capacity >= size")
	}
	block.SetLen(block.Cap())
	l.enqueueRead(c, &readOp{seq: seq, size: size, buf: block.Bytes(), block: block, blockCB: cb})
}

func (l *Loop) enqueueRead(c api.Connection, op *readOp) {
	st := l.state(c)
	st.reads.Add(op)
	if op.size == 0 && st.reads.Length() == 1 {
		// nothing to wait for; complete without readiness
		l.deferred = append(l.deferred, func() {
			if l.current(st) {
				l.processReads(st)
				l.update(st)
			}
		})
	}
	l.update(st)
}

// AsyncWrite implements api.EventLoop.
func (l *Loop) AsyncWrite(c api.Connection, seq uint32, buf pool.Buffer, cb api.WriteCallback) {
	if !buf.Valid() {
		panic("reactor: AsyncWrite of invalid buffer")
	}
	l.enqueueWrite(c, &writeOp{seq: seq, data: buf.Bytes(), cb: cb})
}

// AsyncWriteBlock implements api.EventLoop.
func (l *Loop) AsyncWriteBlock(c api.Connection, seq uint32, block *pool.PinnedBlock, cb api.WriteCallback) {
	if !block.Valid() {
		panic("reactor: AsyncWriteBlock of invalid block")
	}
	l.enqueueWrite(c, &writeOp{seq: seq, data: block.Bytes(), block: block, cb: cb})
}

func (l *Loop) enqueueWrite(c api.Connection, op *writeOp) {
	st := l.state(c)
	st.writes.Add(op)
	l.pendingWrites++
	l.update(st)
}

// Cancel implements api.EventLoop. Callbacks of dropped registrations do not
// fire; blocks they owned are released.
func (l *Loop) Cancel(c api.Connection) {
	if c == nil {
		return
	}
	st, ok := l.fds[c.Fd()]
	if !ok {
		return
	}
	delete(l.fds, st.fd)
	if st.mask != 0 {
		if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, st.fd, nil); err != nil {
			l.log.Debug().Err(err).Int("fd", st.fd).Msg("epoll ctl del on cancel")
		}
		st.mask = 0
	}
	for st.reads.Length() > 0 {
		st.reads.Remove().(*readOp).block.Release()
	}
	for st.writes.Length() > 0 {
		st.writes.Remove().(*writeOp).block.Release()
		l.pendingWrites--
	}
	st.onRead, st.onWrite = nil, nil
}

// HasPendingWrites implements api.EventLoop.
func (l *Loop) HasPendingWrites() bool {
	return l.pendingWrites > 0
}

// Pending returns the number of registered descriptors and timers.
func (l *Loop) Pending() (fds, timers int) {
	return len(l.fds), l.timers.len()
}

// Interrupt implements api.EventLoop. The eventfd counter stays readable
// until the next Dispatch drains it.
func (l *Loop) Interrupt() {
	if l.closed.Load() {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(l.wakefd, buf[:]); err != nil && err != unix.EAGAIN {
		l.log.Warn().Err(err).Msg("eventfd write")
	}
}

func (l *Loop) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(l.wakefd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// Dispatch implements api.EventLoop.
func (l *Loop) Dispatch() {
	wait := l.timers.waitFor(time.Now(), l.maxWait)
	if len(l.deferred) > 0 {
		wait = 0
	}

	n, err := unix.EpollWait(l.epfd, l.events, durationToMillis(wait))
	if err != nil && err != unix.EINTR {
		l.log.Error().Err(err).Msg("epoll wait")
		n = 0
	}

	for i := 0; i < n; i++ {
		ev := l.events[i]
		fd := int(ev.Fd)
		if fd == l.wakefd {
			l.drainWake()
			continue
		}
		st, ok := l.fds[fd]
		if !ok {
			continue
		}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			l.handleReadable(st)
		}
		if l.current(st) && ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			l.handleWritable(st)
		}
		if l.current(st) {
			l.update(st)
		}
	}

	for len(l.deferred) > 0 {
		fns := l.deferred
		l.deferred = nil
		for _, fn := range fns {
			fn()
		}
	}

	for _, t := range l.timers.expired(time.Now()) {
		t.cb()
	}
}

func (l *Loop) handleReadable(st *fdState) {
	if st.reads.Length() > 0 {
		l.processReads(st)
		return
	}
	cbs := st.onRead
	st.onRead = nil
	for _, cb := range cbs {
		cb(st.conn)
	}
}

// processReads fills queued reads in order until the socket would block.
func (l *Loop) processReads(st *fdState) {
	for st.reads.Length() > 0 {
		op := st.reads.Peek().(*readOp)
		for op.n < op.size {
			n, err := unix.Read(st.fd, op.buf[op.n:op.size])
			switch {
			case err == unix.EINTR:
				continue
			case err == unix.EAGAIN:
				return
			case err != nil:
				l.failReads(st, fmt.Errorf("read %s: %w", st.conn, err))
				return
			case n == 0:
				l.failReads(st, io.ErrUnexpectedEOF)
				return
			}
			op.n += n
		}
		st.reads.Remove()
		l.completeRead(st, op, nil)
		if !l.current(st) {
			return
		}
	}
}

func (l *Loop) completeRead(st *fdState, op *readOp, err error) {
	if op.block != nil {
		if err == nil {
			op.block.SetLen(op.size)
		} else {
			op.block.SetLen(op.n)
		}
		if op.blockCB != nil {
			op.blockCB(st.conn, op.block, err)
		} else {
			op.block.Release()
		}
		return
	}
	if op.readCB == nil {
		return
	}
	var buf pool.Buffer
	if err == nil {
		buf = pool.WrapBuffer(op.buf[:op.size])
	}
	op.readCB(st.conn, buf, err)
}

func (l *Loop) failReads(st *fdState, err error) {
	ops := make([]*readOp, 0, st.reads.Length())
	for st.reads.Length() > 0 {
		ops = append(ops, st.reads.Remove().(*readOp))
	}
	for _, op := range ops {
		l.completeRead(st, op, err)
	}
}

func (l *Loop) handleWritable(st *fdState) {
	if st.writes.Length() > 0 {
		l.processWrites(st)
		return
	}
	cbs := st.onWrite
	st.onWrite = nil
	for _, cb := range cbs {
		cb(st.conn)
	}
}

// processWrites drains queued writes strictly in order: a write starts only
// after every byte of its predecessor reached the socket.
func (l *Loop) processWrites(st *fdState) {
	for st.writes.Length() > 0 {
		op := st.writes.Peek().(*writeOp)
		for op.off < len(op.data) {
			n, err := unix.Write(st.fd, op.data[op.off:])
			switch {
			case err == unix.EINTR:
				continue
			case err == unix.EAGAIN:
				return
			case err != nil:
				l.failWrites(st, fmt.Errorf("write %s: %w", st.conn, err))
				return
			}
			op.off += n
		}
		st.writes.Remove()
		l.pendingWrites--
		l.completeWrite(st, op, nil)
		if !l.current(st) {
			return
		}
	}
}

func (l *Loop) completeWrite(st *fdState, op *writeOp, err error) {
	op.block.Release()
	if op.cb != nil {
		op.cb(st.conn, err)
	}
}

func (l *Loop) failWrites(st *fdState, err error) {
	ops := make([]*writeOp, 0, st.writes.Length())
	for st.writes.Length() > 0 {
		ops = append(ops, st.writes.Remove().(*writeOp))
		l.pendingWrites--
	}
	for _, op := range ops {
		l.completeWrite(st, op, err)
	}
}

// update brings the epoll registration of st in line with its pending work.
func (l *Loop) update(st *fdState) {
	var want uint32
	if len(st.onRead) > 0 || st.reads.Length() > 0 {
		want |= readEvents
	}
	if len(st.onWrite) > 0 || st.writes.Length() > 0 {
		want |= writeEvents
	}

	if want != st.mask {
		ev := unix.EpollEvent{Events: want, Fd: int32(st.fd)}
		var err error
		switch {
		case st.mask == 0:
			err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, st.fd, &ev)
		case want == 0:
			err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, st.fd, nil)
		default:
			err = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, st.fd, &ev)
		}
		if err != nil {
			l.log.Debug().Err(err).Int("fd", st.fd).Msg("epoll ctl")
			l.failRegistration(st, api.NewError(api.ErrCodeInternal, "epoll ctl").
				WithContext("fd", st.fd).Wrap(err))
			return
		}
		st.mask = want
	}

	if st.idle() {
		delete(l.fds, st.fd)
	}
}

// failRegistration drops st and reports err to its operations on the next
// Dispatch, outside the call that registered them.
func (l *Loop) failRegistration(st *fdState, err error) {
	delete(l.fds, st.fd)
	st.mask = 0
	st.onRead, st.onWrite = nil, nil
	l.deferred = append(l.deferred, func() {
		l.failReads(st, err)
		l.failWrites(st, err)
	})
}

// Close releases the epoll instance and the eventfd. Pending operations are
// dropped without firing their callbacks.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, st := range l.fds {
		l.Cancel(st.conn)
	}
	werr := unix.Close(l.wakefd)
	if err := unix.Close(l.epfd); err != nil {
		return fmt.Errorf("close epoll: %w", err)
	}
	if werr != nil {
		return fmt.Errorf("close eventfd: %w", werr)
	}
	return nil
}

func durationToMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}
