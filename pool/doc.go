// Package pool
// Author: momentics <momentics@gmail.com>
//
// Ownership-tracked memory for asynchronous I/O.
// Buffer is a move-only byte container; PinnedBlock is a pinned handle on a
// recycled, size-classed block. See buffer.go and block.go.
package pool
