// File: fake/conn.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/netdispatch/api"
)

var nextFd atomic.Int64

// Conn is an in-memory connection identified by a unique pseudo descriptor.
type Conn struct {
	fd   int
	name string
}

var _ api.Connection = (*Conn)(nil)

// NewConn returns a connection with a fresh descriptor number.
func NewConn(name string) *Conn {
	fd := int(nextFd.Add(1)) + 1000
	if name == "" {
		name = fmt.Sprintf("fake:%d", fd)
	}
	return &Conn{fd: fd, name: name}
}

func (c *Conn) Fd() int        { return c.fd }
func (c *Conn) String() string { return c.name }
