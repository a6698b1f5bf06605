package timeoutnet

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func TestDialContextWrapsConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	d := &Dialer{
		Timeout: 50 * time.Millisecond,
		netDial: func(ctx context.Context, network, address string) (net.Conn, error) {
			return client, nil
		},
	}
	conn, err := d.DialContext(context.Background(), "tcp", "ignored:3306")
	if err != nil {
		t.Fatalf("DialContext error: %v", err)
	}

	go func() {
		buf := make([]byte, 8)
		n, _ := server.Read(buf)
		server.Write(buf[:n])
	}()

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	buf := make([]byte, 8)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if got := string(buf[:n]); got != "ping" {
		t.Errorf("Read = %q, want %q", got, "ping")
	}
}

func TestReadDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := &deadlineConn{Conn: client, timeout: 50 * time.Millisecond}

	// The peer never writes; the read must fail on its own deadline.
	buf := make([]byte, 8)
	start := time.Now()
	_, err := conn.Read(buf)
	if err == nil {
		t.Fatal("Read returned without error on a silent peer")
	}
	netErr, ok := err.(net.Error)
	if !ok || !netErr.Timeout() {
		t.Errorf("Read error = %v, want a timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read blocked %v, deadline did not fire", elapsed)
	}
}

func TestWriteDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	conn := &deadlineConn{Conn: client, timeout: 50 * time.Millisecond}

	// net.Pipe has no buffering; with no reader the write must time out.
	data := []byte(strings.Repeat("stall", 100))
	_, err := conn.Write(data)
	if err == nil {
		t.Fatal("Write returned without error on a stalled peer")
	}
	netErr, ok := err.(net.Error)
	if !ok || !netErr.Timeout() {
		t.Errorf("Write error = %v, want a timeout", err)
	}
}
