//go:build linux

package dispatcher

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/netdispatch/affinity"
	"github.com/momentics/netdispatch/api"
	"github.com/momentics/netdispatch/pool"
	"github.com/momentics/netdispatch/reactor"
)

func newReactorThread(t *testing.T, opts ...Option) *Thread {
	t.Helper()
	g := reactor.NewGroup(reactor.WithMaxWait(100*time.Millisecond), reactor.WithLogger(zerolog.Nop()))
	th, err := NewFromGroup(g, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = th.Close() })
	return th
}

func TestThread_ReactorHeaderBeforePayload(t *testing.T) {
	th := newReactorThread(t, WithCPU(NoAffinity))
	a, b, err := reactor.SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	const n = 10
	for i := range n {
		header := pool.CopyBuffer([]byte{'H', byte('0' + i)})
		payload := pool.NewPinnedBlock([]byte{'P', byte('0' + i)})
		require.NoError(t, th.AsyncWriteTwo(a, uint32(2*i), &header, payload, nil))
	}

	got := make(chan []byte, 1)
	require.NoError(t, th.AsyncRead(b, 0, 4*n, func(c api.Connection, buf pool.Buffer, err error) {
		assert.NoError(t, err)
		got <- buf.Bytes()
	}))

	select {
	case data := <-got:
		want := make([]byte, 0, 4*n)
		for i := range n {
			want = append(want, 'H', byte('0'+i), 'P', byte('0'+i))
		}
		assert.Equal(t, string(want), string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("read did not complete")
	}

	require.NoError(t, th.Cancel(a))
	require.NoError(t, th.Cancel(b))
}

func TestThread_ReactorWriteTwoEmptyParts(t *testing.T) {
	g := reactor.NewGroup(reactor.WithMaxWait(time.Hour), reactor.WithLogger(zerolog.Nop()))
	th, err := NewFromGroup(g, WithCPU(NoAffinity), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer th.Close()

	a, b, err := reactor.SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	cases := []struct{ header, payload string }{
		{"", ""},
		{"H", ""},
		{"", "P"},
		{"HDR", "PAY"},
	}
	calls := make([]atomic.Int32, len(cases))
	done := make(chan struct{}, len(cases))
	for i, tc := range cases {
		header := pool.NewBuffer(0)
		if tc.header != "" {
			header = pool.CopyBuffer([]byte(tc.header))
		}
		payload := pool.NewPinnedBlock(nil)
		if tc.payload != "" {
			payload = pool.NewPinnedBlock([]byte(tc.payload))
		}
		require.NoError(t, th.AsyncWriteTwo(a, uint32(2*i), &header, payload, func(c api.Connection, err error) {
			assert.NoError(t, err)
			calls[i].Add(1)
			done <- struct{}{}
		}))
	}
	require.NoError(t, th.AsyncWriteString(a, 100, "|", nil))

	for range cases {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("write callbacks did not fire")
		}
	}

	const want = "HPHDRPAY|"
	got := make(chan []byte, 1)
	require.NoError(t, th.AsyncRead(b, 0, len(want), func(c api.Connection, buf pool.Buffer, err error) {
		assert.NoError(t, err)
		got <- buf.Bytes()
	}))
	select {
	case data := <-got:
		assert.Equal(t, want, string(data))
	case <-time.After(3 * time.Second):
		t.Fatal("read did not complete")
	}

	syncThread(t, th)
	for i := range cases {
		assert.Equal(t, int32(1), calls[i].Load(), fmt.Sprintf("case %d", i))
	}
	require.NoError(t, th.Cancel(a))
	require.NoError(t, th.Cancel(b))
}

func TestThread_TerminateFromJobPanics(t *testing.T) {
	th := newReactorThread(t, WithCPU(NoAffinity))

	recovered := make(chan any, 1)
	require.NoError(t, th.Post(func(api.EventLoop) {
		defer func() { recovered <- recover() }()
		th.Terminate()
	}))

	select {
	case r := <-recovered:
		require.NotNil(t, r)
		assert.Contains(t, fmt.Sprint(r), "dispatcher goroutine")
	case <-time.After(3 * time.Second):
		t.Fatal("Terminate from a job did not panic")
	}

	syncThread(t, th)
	select {
	case <-th.Done():
		t.Fatal("dispatcher exited after a rejected Terminate")
	default:
	}
	assert.NoError(t, th.Close())
}

func TestThread_ReactorTerminateFlushesWrites(t *testing.T) {
	th := newReactorThread(t, WithCPU(NoAffinity))
	a, b, err := reactor.SocketPair()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	written := make(chan error, 1)
	require.NoError(t, th.AsyncWriteString(a, 1, "bye", func(c api.Connection, err error) { written <- err }))
	th.Terminate()

	select {
	case err := <-written:
		require.NoError(t, err)
	default:
		t.Fatal("Terminate returned before the write completed")
	}
	buf := make([]byte, 8)
	n, err := unix.Read(b.Fd(), buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:n]))
}

func TestThread_PinnedToLastCPU(t *testing.T) {
	th := newReactorThread(t, WithName("pinned-dispatcher"))

	got := make(chan []int, 1)
	require.NoError(t, th.Post(func(api.EventLoop) {
		cpus, err := affinity.Allowed()
		assert.NoError(t, err)
		got <- cpus
	}))

	select {
	case cpus := <-got:
		assert.Equal(t, []int{affinity.LastCPU()}, cpus)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
