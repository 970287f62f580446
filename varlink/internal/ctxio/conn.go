// Package ctxio makes blocking net.Conn I/O context aware: when the
// context fires, an immediate deadline interrupts the pending read or
// write.
package ctxio

import (
	"bufio"
	"context"
	"net"
	"time"
)

// aLongTimeAgo is a time in the past used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Conn wraps a net.Conn. It is not safe for concurrent use.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func New(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: bufio.NewReader(c),
	}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Write writes buf to the underlying connection, honoring ctx.
func (c *Conn) Write(ctx context.Context, buf []byte) (int, error) {
	done := make(chan struct{})
	interrupted := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(aLongTimeAgo)
		close(done)
	})
	n, err := c.conn.Write(buf)
	if !interrupted() {
		<-done
		c.conn.SetWriteDeadline(time.Time{})
		return n, ctx.Err()
	}
	return n, err
}

// ReadBytes reads from the connection until delim is found, honoring
// ctx.
func (c *Conn) ReadBytes(ctx context.Context, delim byte) ([]byte, error) {
	done := make(chan struct{})
	interrupted := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(aLongTimeAgo)
		close(done)
	})
	out, err := c.reader.ReadBytes(delim)
	if !interrupted() {
		<-done
		c.conn.SetReadDeadline(time.Time{})
		return out, ctx.Err()
	}
	return out, err
}
