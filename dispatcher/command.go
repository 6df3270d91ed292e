// File: dispatcher/command.go
// Author: momentics <momentics@gmail.com>
//
// Jobs marshalled onto the dispatcher goroutine. Each variant replays one
// event loop call.

package dispatcher

import (
	"time"

	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/pool"
)

type opKind uint8

const (
	opTimer opKind = iota
	opAddRead
	opAddWrite
	opCancel
	opRead
	opReadInto
	opWrite
	opWriteTwo
	opFunc
)

var opNames = [...]string{
	opTimer:    "timer",
	opAddRead:  "add_read",
	opAddWrite: "add_write",
	opCancel:   "cancel",
	opRead:     "read",
	opReadInto: "read_into",
	opWrite:    "write",
	opWriteTwo: "write_two",
	opFunc:     "func",
}

func (k opKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "unknown"
}

// command is a single-execution job. Only the fields of its kind are set.
type command struct {
	kind    opKind
	conn    api.Connection
	seq     uint32
	size    int
	timeout time.Duration
	buf     pool.Buffer
	block   *pool.PinnedBlock

	timerCB api.TimerCallback
	readyCB api.ReadyCallback
	readCB  api.ReadCallback
	blockCB api.ReadBlockCallback
	writeCB api.WriteCallback
	fn      func(api.EventLoop)
}

// run executes the command against loop. It must only be called on the
// dispatcher goroutine.
func (c *command) run(loop api.EventLoop) {
	switch c.kind {
	case opTimer:
		loop.AddTimer(c.timeout, c.timerCB)
	case opAddRead:
		loop.AddRead(c.conn, c.readyCB)
	case opAddWrite:
		loop.AddWrite(c.conn, c.readyCB)
	case opCancel:
		loop.Cancel(c.conn)
	case opRead:
		loop.AsyncRead(c.conn, c.seq, c.size, c.readCB)
	case opReadInto:
		loop.AsyncReadInto(c.conn, c.seq, c.size, c.block, c.blockCB)
	case opWrite:
		loop.AsyncWrite(c.conn, c.seq, c.buf.Move(), c.writeCB)
	case opWriteTwo:
		loop.AsyncWrite(c.conn, c.seq, c.buf.Move(), nil)
		loop.AsyncWriteBlock(c.conn, c.seq+1, c.block, c.writeCB)
	case opFunc:
		c.fn(loop)
	}
}

// discard gives up resources owned by a command that will never run.
func (c *command) discard() {
	c.block.Release()
	c.buf = pool.Buffer{}
}
