// Package api
// Author: momentics
//
// Live debug probes for running components.

package api

// Debug is a registry of named state probes.
type Debug interface {
	// DumpState evaluates every probe and returns the results by name.
	DumpState() map[string]any

	// RegisterProbe adds or replaces the probe called name.
	RegisterProbe(name string, fn func() any)

	// UnregisterProbe removes the probe called name, if present.
	UnregisterProbe(name string)
}
