package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/protocol"
	"github.com/muurk/rotlink/internal/rotcipher"
	"go.uber.org/zap"
)

// ClientConfig configures a ClientSession.
type ClientConfig struct {
	Addr     string
	Username string
	Password string

	Keys   rotcipher.KeySet
	Framer protocol.Framer

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// OnEvent, when set, is subscribed before the handshake is sent so no
	// event is missed.
	OnEvent Listener
}

// ClientSession is the client side of a rotlink connection.
type ClientSession struct {
	conn   net.Conn
	cfg    *ClientConfig
	framer protocol.Framer
	bus    *Bus

	in  *rotcipher.Cipher
	out *rotcipher.Cipher

	writeMu sync.Mutex

	validated atomic.Bool
	handshake chan bool
	done      chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	terminate string
	readErr   error
}

// Dial connects to cfg.Addr and performs the handshake. It reports whether
// the server accepted the credentials. A rejected session is returned closed.
func Dial(ctx context.Context, cfg *ClientConfig) (*ClientSession, bool, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if cfg.TLSConfig != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: cfg.TLSConfig}
		conn, err = td.DialContext(ctx, "tcp", cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}

	c, err := NewClientSession(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	ok, err := c.Handshake(ctx)
	if err != nil {
		_ = c.Close()
		return nil, false, err
	}
	if !ok {
		_ = c.Close()
	}
	return c, ok, nil
}

// NewClientSession wraps an established connection and starts reading.
func NewClientSession(conn net.Conn, cfg *ClientConfig) (*ClientSession, error) {
	in, out, err := cfg.Keys.ClientCiphers()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise ciphers: %w", err)
	}
	framer := cfg.Framer
	if framer == nil {
		framer = protocol.RawFramer{}
	}

	c := &ClientSession{
		conn:      conn,
		cfg:       cfg,
		framer:    framer,
		bus:       NewBus(),
		in:        in,
		out:       out,
		handshake: make(chan bool, 1),
		done:      make(chan struct{}),
	}
	if cfg.OnEvent != nil {
		c.bus.Subscribe(cfg.OnEvent)
	}
	go c.readLoop()
	return c, nil
}

// Handshake sends the credentials and waits for the server's verdict.
func (c *ClientSession) Handshake(ctx context.Context) (bool, error) {
	if err := c.write(protocol.BuildHandshake(c.cfg.Username, c.cfg.Password)); err != nil {
		return false, fmt.Errorf("failed to send handshake: %w", err)
	}

	var timeout <-chan time.Time
	if c.cfg.HandshakeTimeout > 0 {
		t := time.NewTimer(c.cfg.HandshakeTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case ok := <-c.handshake:
		return ok, nil
	case <-c.done:
		// The verdict may have landed just before the connection closed.
		select {
		case ok := <-c.handshake:
			return ok, nil
		default:
		}
		if reason := c.TerminateReason(); reason != "" {
			return false, nil
		}
		return false, fmt.Errorf("connection closed during handshake: %w", c.Err())
	case <-timeout:
		return false, ErrHandshakeTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Events returns the bus carrying this session's events.
func (c *ClientSession) Events() *Bus { return c.bus }

// LocalAddr returns the client's end of the connection.
func (c *ClientSession) LocalAddr() string { return c.conn.LocalAddr().String() }

// Validated reports whether the server accepted the handshake.
func (c *ClientSession) Validated() bool { return c.validated.Load() }

// Done is closed when the connection ends.
func (c *ClientSession) Done() <-chan struct{} { return c.done }

// TerminateReason returns the reason from a server TERMINATE, if one arrived.
func (c *ClientSession) TerminateReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminate
}

// Err returns the error that ended the read loop, or nil for a clean close.
func (c *ClientSession) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Send encodes and sends p. Clients may not originate TERMINATE; use Close.
func (c *ClientSession) Send(p protocol.Packet) error {
	if p.Type() == protocol.PacketTerminate {
		panic("session: clients cannot send TERMINATE")
	}
	return c.write(protocol.Encode(p))
}

// SendMessage sends a chat MESSAGE.
func (c *ClientSession) SendMessage(text string) error {
	return c.write(protocol.BuildMessage(text))
}

// SendRawData sends payload verbatim as a DATA packet.
func (c *ClientSession) SendRawData(payload string) error {
	return c.write(protocol.BuildData(payload))
}

// SendData sends v serialized as JSON in a DATA packet.
func (c *ClientSession) SendData(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return c.SendRawData(string(payload))
}

func (c *ClientSession) write(plain []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	c.out.Transform(plain)
	return c.framer.WritePacket(c.conn, plain)
}

// Close closes the connection.
func (c *ClientSession) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *ClientSession) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.done)
		c.bus.Publish(Event{Kind: EventClosed, Username: c.cfg.Username, RemoteAddr: c.cfg.Addr})
	}()

	for {
		raw, err := c.framer.ReadPacket(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}
		if len(raw) == 0 {
			continue
		}
		c.in.Transform(raw)

		pkt, err := protocol.ParseFromServer(raw)
		if err != nil {
			logging.Warn("Dropping malformed packet from server", zap.Error(err))
			continue
		}

		switch p := pkt.(type) {
		case *protocol.HandshakeResponse:
			if p.Accepted {
				c.validated.Store(true)
				c.publish(EventValidated, "")
			}
			select {
			case c.handshake <- p.Accepted:
			default:
			}
		case *protocol.Message:
			c.publish(EventMessage, p.Text)
		case *protocol.Terminate:
			c.mu.Lock()
			c.terminate = p.Reason
			c.mu.Unlock()
			c.publish(EventTerminated, p.Reason)
			return
		default:
			logging.Debug("Ignoring packet from server", zap.String("type", pkt.Type().String()))
		}
	}
}

func (c *ClientSession) publish(kind EventKind, text string) {
	c.bus.Publish(Event{
		Kind:       kind,
		Username:   c.cfg.Username,
		RemoteAddr: c.cfg.Addr,
		Text:       text,
		At:         time.Now(),
	})
}
