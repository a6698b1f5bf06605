// Package timeoutnet dials upstream servers with an I/O deadline applied
// to every read and write. A stalled source must never wedge a refresh
// cycle, so each operation re-arms the deadline instead of relying on a
// single connect timeout.
package timeoutnet

import (
	"context"
	"net"
	"time"
)

// Dialer produces connections whose reads and writes each carry a fresh
// deadline of Timeout.
type Dialer struct {
	Timeout time.Duration
	netDial func(ctx context.Context, network, address string) (net.Conn, error)
}

func NewDialer(timeout time.Duration) *Dialer {
	d := &net.Dialer{Timeout: timeout}
	return &Dialer{Timeout: timeout, netDial: d.DialContext}
}

// DialContext satisfies the dialer signature the MySQL client library
// expects.
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.netDial(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &deadlineConn{Conn: conn, timeout: d.Timeout}, nil
}

// deadlineConn re-arms the read or write deadline before every operation.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
