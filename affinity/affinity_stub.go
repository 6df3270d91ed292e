//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.
// Returns error to indicate unavailability.

package affinity

func setAffinityPlatform(int) error { return ErrNotSupported }

func setThreadNamePlatform(string) error { return ErrNotSupported }

func allowedPlatform() ([]int, error) { return nil, ErrNotSupported }

func threadIDPlatform() int { return 0 }
