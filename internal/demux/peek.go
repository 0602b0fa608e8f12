package demux

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrPeekTimeout is returned when a client sends fewer than the required
// bytes before the peek deadline.
var ErrPeekTimeout = errors.New("demux: peek timeout")

const minPeekBuffer = 4096

// PeekedConn is a net.Conn whose reads first drain the bytes buffered while
// peeking.
type PeekedConn struct {
	net.Conn
	r      *bufio.Reader
	peeked []byte
}

// Read reads buffered bytes first, then from the connection.
func (c *PeekedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// CloseWrite half-closes the underlying connection when it supports it.
func (c *PeekedConn) CloseWrite() error {
	return closeWrite(c.Conn)
}

// Peeked returns a copy of the bytes used for routing.
func (c *PeekedConn) Peeked() []byte {
	out := make([]byte, len(c.peeked))
	copy(out, c.peeked)
	return out
}

// Buffered returns the number of bytes read ahead but not yet consumed.
func (c *PeekedConn) Buffered() int {
	return c.r.Buffered()
}

// Peek reads from conn until at least n bytes are buffered, without
// consuming them. A timeout of zero waits forever.
func Peek(conn net.Conn, n int, timeout time.Duration) (*PeekedConn, error) {
	if n <= 0 {
		return nil, fmt.Errorf("demux: invalid peek length %d", n)
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("failed to set peek deadline: %w", err)
		}
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	r := bufio.NewReaderSize(conn, max(n, minPeekBuffer))
	b, err := r.Peek(n)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, fmt.Errorf("%w: got %d of %d bytes", ErrPeekTimeout, r.Buffered(), n)
		}
		return nil, fmt.Errorf("failed to peek %d bytes: %w", n, err)
	}

	peeked := make([]byte, n)
	copy(peeked, b)
	return &PeekedConn{Conn: conn, r: r, peeked: peeked}, nil
}
