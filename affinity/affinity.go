// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity and OS thread naming. Platform-specific
// implementations are located in separate files (affinity_linux.go,
// affinity_windows.go, etc.) guarded by build tags.
//
// Every call acts on the calling OS thread, so callers lock their goroutine
// with runtime.LockOSThread first.

package affinity

import (
	"errors"
	"runtime"
)

// ErrNotSupported is returned on platforms without an implementation.
var ErrNotSupported = errors.New("affinity: not supported on this platform")

// maxThreadName is the longest name the kernel keeps, excluding the NUL.
const maxThreadName = 15

// SetAffinity pins the current OS thread to a given logical CPU.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return errors.New("affinity: negative cpu id")
	}
	return setAffinityPlatform(cpuID)
}

// SetThreadName assigns a human-readable name to the current OS thread.
// Names longer than the platform limit are truncated.
func SetThreadName(name string) error {
	if len(name) > maxThreadName {
		name = name[:maxThreadName]
	}
	return setThreadNamePlatform(name)
}

// NumCPU returns the number of logical CPUs usable by the process.
func NumCPU() int {
	return runtime.NumCPU()
}

// LastCPU returns the highest CPU the process may run on.
func LastCPU() int {
	if cpus, err := Allowed(); err == nil && len(cpus) > 0 {
		return cpus[len(cpus)-1]
	}
	return NumCPU() - 1
}

// ThreadID returns the kernel id of the calling OS thread, or 0 where the
// platform has none to offer.
func ThreadID() int {
	return threadIDPlatform()
}

// Allowed returns the CPUs the current thread may run on, ascending.
func Allowed() ([]int, error) {
	return allowedPlatform()
}
