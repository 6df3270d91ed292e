// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration loading, and debug introspection layer for
// dispatcher threads and their event loops.
//
// Provides concurrent-safe state handling primitives including:
//   - Prometheus collectors for dispatcher activity
//   - Config snapshots loaded from files, flags and environment
//   - State export, debug hooks, and probe registration
package control
