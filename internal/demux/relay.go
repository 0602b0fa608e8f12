package demux

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/muurk/rotlink/internal/logging"
	proxyproto "github.com/pires/go-proxyproto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultDialTimeout bounds the relay's connection to its target.
const DefaultDialTimeout = 5 * time.Second

// Relay splices a routed connection, including its peeked bytes, to a
// target address, usually an internal loopback listener.
type Relay struct {
	Addr        string
	DialTimeout time.Duration
	// ProxyHeader prefixes the relayed stream with a PROXY protocol v1
	// header so the target can recover the original peer address.
	ProxyHeader bool
}

// ServeConn dials the target and copies both directions until both sides
// have finished writing.
func (r *Relay) ServeConn(conn net.Conn) {
	defer conn.Close()
	remoteAddr := conn.RemoteAddr().String()

	timeout := r.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	target, err := net.DialTimeout("tcp", r.Addr, timeout)
	if err != nil {
		logging.Warn("Relay dial failed",
			zap.String("remote_addr", remoteAddr),
			zap.String("target", r.Addr),
			zap.Error(err),
		)
		return
	}
	defer target.Close()

	if r.ProxyHeader {
		header := proxyproto.HeaderProxyFromAddrs(1, conn.RemoteAddr(), conn.LocalAddr())
		if _, err := header.WriteTo(target); err != nil {
			logging.Warn("Relay failed to write PROXY header",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
	}

	if err := splice(conn, target); err != nil {
		logging.Debug("Relay ended",
			zap.String("remote_addr", remoteAddr),
			zap.String("target", r.Addr),
			zap.Error(err),
		)
	}
}

type closeWriter interface {
	CloseWrite() error
}

// closeWrite shuts down the write side of c, or closes c entirely when it
// cannot be half-closed.
func closeWrite(c net.Conn) error {
	if cw, ok := c.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return c.Close()
}

// splice copies a<->b. A clean EOF half-closes the destination so the
// other direction can finish. An error in either direction closes both.
func splice(a, b net.Conn) error {
	g, ctx := errgroup.WithContext(context.Background())
	stop := context.AfterFunc(ctx, func() {
		_ = a.Close()
		_ = b.Close()
	})
	defer stop()

	pipe := func(dst, src net.Conn) func() error {
		return func() error {
			_, err := io.Copy(dst, src)
			if err != nil && !isClosed(err) {
				return err
			}
			_ = closeWrite(dst)
			return nil
		}
	}
	g.Go(pipe(b, a))
	g.Go(pipe(a, b))
	return g.Wait()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF)
}
