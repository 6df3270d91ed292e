//go:build !linux
// +build !linux

// File: reactor/reactor_other.go
// Author: momentics <momentics@gmail.com>
//
// Placeholders for platforms without an epoll backend.

package reactor

import (
	"github.com/momentics/netdispatch/api"
)

// Loop is unavailable on this platform.
type Loop struct {
	api.EventLoop
}

// New reports api.ErrNotSupported.
func New(opts ...Option) (*Loop, error) {
	return nil, api.ErrNotSupported
}

// Close is a no-op.
func (l *Loop) Close() error { return nil }

// ConstructEventLoop reports api.ErrNotSupported.
func (g *Group) ConstructEventLoop() (api.EventLoop, error) {
	return nil, api.ErrNotSupported
}

// Conn is unavailable on this platform.
type Conn struct {
	fd   int
	name string
}

// NewConn reports api.ErrNotSupported.
func NewConn(fd int, name string) (*Conn, error) {
	return nil, api.ErrNotSupported
}

func (c *Conn) Fd() int        { return c.fd }
func (c *Conn) String() string { return c.name }
func (c *Conn) Close() error   { return nil }

// SocketPair reports api.ErrNotSupported.
func SocketPair() (*Conn, *Conn, error) {
	return nil, nil, api.ErrNotSupported
}
