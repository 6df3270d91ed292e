// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Move-only byte container handed to asynchronous writes and returned by
// asynchronous reads.

package pool

import "strconv"

// Buffer owns a byte slice. A Buffer is handed off with Move; the source is
// invalid afterwards. The zero value is an invalid Buffer.
type Buffer struct {
	data  []byte
	valid bool
}

// NewBuffer allocates a zeroed buffer of the given size.
func NewBuffer(size int) Buffer {
	if size < 0 {
		panic("pool: negative buffer size")
	}
	return Buffer{data: make([]byte, size), valid: true}
}

// CopyBuffer returns a buffer holding a private copy of p.
func CopyBuffer(p []byte) Buffer {
	data := make([]byte, len(p))
	copy(data, p)
	return Buffer{data: data, valid: true}
}

// WrapBuffer takes ownership of p without copying. The caller must not
// touch p afterwards.
func WrapBuffer(p []byte) Buffer {
	if p == nil {
		p = []byte{}
	}
	return Buffer{data: p, valid: true}
}

// Valid reports whether b still owns its bytes.
func (b Buffer) Valid() bool { return b.valid }

// Bytes returns the owned bytes, nil for an invalid buffer.
func (b Buffer) Bytes() []byte { return b.data }

// Len returns the number of owned bytes.
func (b Buffer) Len() int { return len(b.data) }

// Move transfers ownership to the returned buffer and invalidates b.
// Moving an invalid buffer panics.
func (b *Buffer) Move() Buffer {
	if !b.valid {
		panic("pool: move of invalid buffer")
	}
	out := *b
	*b = Buffer{}
	return out
}

func (b Buffer) String() string {
	if !b.valid {
		return "Buffer(invalid)"
	}
	return "Buffer(" + strconv.Itoa(len(b.data)) + " bytes)"
}
