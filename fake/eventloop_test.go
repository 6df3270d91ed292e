package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/pool"
)

func TestEventLoop_CancelDropsReadyCallbacks(t *testing.T) {
	l := NewEventLoop(10 * time.Millisecond)
	cancelled, kept := NewConn("cancelled"), NewConn("kept")

	var fired []string
	l.AddRead(cancelled, func(c api.Connection) { fired = append(fired, "read:"+c.String()) })
	l.AddWrite(cancelled, func(c api.Connection) { fired = append(fired, "write:"+c.String()) })
	l.AddWrite(kept, func(c api.Connection) { fired = append(fired, "write:"+c.String()) })

	l.Cancel(cancelled)
	l.Dispatch()
	l.Dispatch()

	assert.Equal(t, []string{"write:kept"}, fired)
}

func TestEventLoop_CancelDropsReadsAndWrites(t *testing.T) {
	l := NewEventLoop(10 * time.Millisecond)
	c := NewConn("")
	blocks := pool.NewBlockPool()

	l.HoldWrites(true)
	l.AsyncRead(c, 1, 4, func(api.Connection, pool.Buffer, error) { t.Error("read fired") })
	l.AsyncWriteBlock(c, 2, blocks.Get(8), func(api.Connection, error) { t.Error("write fired") })
	require.Equal(t, 1, l.InFlight())

	l.Cancel(c)
	assert.Zero(t, l.InFlight())
	assert.Zero(t, blocks.Stats().InUse)

	l.HoldWrites(false)
	l.Feed(c, []byte("data"))
	l.Dispatch()
	assert.Zero(t, l.Violations())
}

func TestEventLoop_InterruptIsSticky(t *testing.T) {
	l := NewEventLoop(time.Hour)
	l.Interrupt()

	start := time.Now()
	l.Dispatch()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), l.Interrupts())
}
