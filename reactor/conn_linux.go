//go:build linux
// +build linux

// File: reactor/conn_linux.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/momentics/netdispatch/api"
)

// Conn is a non-blocking descriptor owned by the caller.
type Conn struct {
	fd   int
	name string

	closeOnce sync.Once
	closeErr  error
}

var _ api.Connection = (*Conn)(nil)

// NewConn takes ownership of fd and switches it to non-blocking mode.
func NewConn(fd int, name string) (*Conn, error) {
	if fd < 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "negative descriptor").
			WithContext("fd", fd)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblock fd %d: %w", fd, err)
	}
	if name == "" {
		name = fmt.Sprintf("fd:%d", fd)
	}
	return &Conn{fd: fd, name: name}, nil
}

// Fd implements api.Connection.
func (c *Conn) Fd() int { return c.fd }

// String implements api.Connection.
func (c *Conn) String() string { return c.name }

// Close closes the descriptor once. Cancel the connection on its loop first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = unix.Close(c.fd)
	})
	return c.closeErr
}

// SocketPair returns two connected stream sockets.
func SocketPair() (*Conn, *Conn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	a := &Conn{fd: fds[0], name: fmt.Sprintf("pair:%d", fds[0])}
	b := &Conn{fd: fds[1], name: fmt.Sprintf("pair:%d", fds[1])}
	return a, b, nil
}
