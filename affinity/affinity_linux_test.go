//go:build linux

package affinity

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func threadName(t *testing.T) string {
	t.Helper()
	var b [maxThreadName + 1]byte
	require.NoError(t, unix.Prctl(unix.PR_GET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0))
	return unix.ByteSliceToString(b[:])
}

// runLocked runs fn on a fresh locked OS thread that exits with the goroutine,
// so the thread's name and mask never leak into other tests.
func runLocked(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		fn()
	}()
	<-done
}

func TestSetThreadName(t *testing.T) {
	runLocked(func() {
		require.NoError(t, SetThreadName("nd-test"))
		assert.Equal(t, "nd-test", threadName(t))
	})
}

func TestSetThreadName_Truncates(t *testing.T) {
	runLocked(func() {
		require.NoError(t, SetThreadName("dispatcher-thread-0123456789"))
		assert.Equal(t, "dispatcher-thre", threadName(t))
	})
}

func TestSetAffinity_AllowedCPU(t *testing.T) {
	cpus, err := Allowed()
	require.NoError(t, err)
	require.NotEmpty(t, cpus)

	target := cpus[len(cpus)-1]
	assert.Equal(t, target, LastCPU())

	runLocked(func() {
		require.NoError(t, SetAffinity(target))
		now, err := Allowed()
		require.NoError(t, err)
		assert.Equal(t, []int{target}, now)
	})
}

func TestSetAffinity_Negative(t *testing.T) {
	assert.Error(t, SetAffinity(-1))
}

func TestThreadID(t *testing.T) {
	var first, second int
	runLocked(func() { first = ThreadID() })
	runLocked(func() {
		second = ThreadID()
		assert.Equal(t, unix.Gettid(), second)
	})
	assert.Positive(t, first)
	assert.Positive(t, second)
}
