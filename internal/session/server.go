package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/protocol"
	"github.com/muurk/rotlink/internal/rotcipher"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of a server session.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// RateLimitConfig limits MESSAGE and DATA packets per session.
type RateLimitConfig struct {
	MessagesPerSecond float64
	Burst             int
	Enabled           bool
}

// DefaultRateLimitConfig returns a permissive limit suitable for chat traffic.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerSecond: 20,
		Burst:             40,
		Enabled:           true,
	}
}

// ServerConfig is shared by every session a server accepts.
type ServerConfig struct {
	Keys     rotcipher.KeySet
	Framer   protocol.Framer
	Registry *Registry
	Bus      *Bus

	// HandshakeTimeout closes a session that has not authenticated in time.
	HandshakeTimeout time.Duration
	// IdleTimeout closes a session that sends nothing for this long.
	IdleTimeout time.Duration
	// WriteTimeout bounds each outbound packet write.
	WriteTimeout time.Duration

	RateLimit RateLimitConfig
}

// ServerSession is one accepted connection.
type ServerSession struct {
	id         string
	conn       net.Conn
	remoteAddr string
	cfg        *ServerConfig
	framer     protocol.Framer

	in  *rotcipher.Cipher
	out *rotcipher.Cipher

	// writeMu orders keystream use with wire order.
	writeMu sync.Mutex

	mu       sync.Mutex
	state    State
	username string

	limiter *rate.Limiter

	closeOnce sync.Once
	closeErr  error
	timedOut  bool
}

// NewServerSession prepares a session for conn. Serve must be called to run it.
func NewServerSession(conn net.Conn, cfg *ServerConfig) (*ServerSession, error) {
	if cfg == nil || cfg.Registry == nil {
		return nil, errors.New("session: server config requires a registry")
	}
	in, out, err := cfg.Keys.ServerCiphers()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise ciphers: %w", err)
	}
	framer := cfg.Framer
	if framer == nil {
		framer = protocol.RawFramer{}
	}

	s := &ServerSession{
		id:         uuid.NewString(),
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		cfg:        cfg,
		framer:     framer,
		in:         in,
		out:        out,
		state:      StateUnauthenticated,
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.MessagesPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.MessagesPerSecond), burst)
	}
	return s, nil
}

// ID returns the session's unique id.
func (s *ServerSession) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *ServerSession) RemoteAddr() string { return s.remoteAddr }

// State returns the current lifecycle state.
func (s *ServerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the authenticated username, or "" before the handshake.
func (s *ServerSession) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Serve reads and handles packets until the connection ends or ctx is
// cancelled. It returns nil when the peer disconnects and the reason error
// when the session terminated the peer.
func (s *ServerSession) Serve(ctx context.Context) error {
	defer s.finish()

	logging.LogConnection(s.remoteAddr, "session_started")

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	if s.cfg.HandshakeTimeout > 0 {
		timer := time.AfterFunc(s.cfg.HandshakeTimeout, s.handshakeExpired)
		defer timer.Stop()
	}

	for {
		if s.cfg.IdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		raw, err := s.framer.ReadPacket(s.conn)
		if err != nil {
			return s.readError(ctx, err)
		}
		if len(raw) == 0 {
			continue
		}

		s.in.Transform(raw)
		logging.LogRawBytes("Decrypted inbound packet", raw)

		if err := s.handle(raw); err != nil {
			return err
		}
	}
}

func (s *ServerSession) readError(ctx context.Context, err error) error {
	s.mu.Lock()
	timedOut := s.timedOut
	s.mu.Unlock()

	switch {
	case timedOut:
		return ErrHandshakeTimeout
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		logging.Info("Session idle timeout", zap.String("session_id", s.id))
		return nil
	}
	return fmt.Errorf("failed to read packet: %w", err)
}

func (s *ServerSession) handshakeExpired() {
	s.mu.Lock()
	expired := s.state == StateUnauthenticated
	if expired {
		s.timedOut = true
	}
	s.mu.Unlock()

	if expired {
		logging.Warn("Handshake timeout",
			zap.String("session_id", s.id),
			zap.String("remote_addr", s.remoteAddr),
		)
		_ = s.Close()
	}
}

func (s *ServerSession) handle(raw []byte) error {
	kind := protocol.PacketType(raw[0])
	state := s.State()

	switch {
	case state == StateUnauthenticated && kind != protocol.PacketHandshake:
		s.reject(ReasonNotValidated)
		return ErrNotValidated
	case state == StateAuthenticated && kind == protocol.PacketHandshake:
		s.reject(ReasonAlreadyValidated)
		return ErrAlreadyValidated
	}

	pkt, err := protocol.ParseFromClient(raw)
	if err != nil {
		s.reject(ReasonMalformed)
		return fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	logging.LogPacket(s.remoteAddr, "received", pkt.Type().String(), len(raw))

	switch p := pkt.(type) {
	case *protocol.HandshakeRequest:
		return s.authenticate(p)
	case *protocol.Message:
		if !s.allow() {
			s.reject(ReasonRateLimited)
			return ErrRateLimited
		}
		s.publish(EventMessage, p.Text)
		return nil
	case *protocol.Data:
		if !s.allow() {
			s.reject(ReasonRateLimited)
			return ErrRateLimited
		}
		s.publish(EventData, p.Payload)
		return nil
	case *protocol.Unknown:
		s.reject(ReasonUnexpected)
		return fmt.Errorf("%w: %w", ErrUnexpectedPacket, protocol.ErrUnknownPacketType)
	default:
		s.reject(ReasonUnexpected)
		return fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.Type())
	}
}

func (s *ServerSession) authenticate(p *protocol.HandshakeRequest) error {
	if err := s.cfg.Registry.Authenticate(p.Username, p.Password, s); err != nil {
		logging.Warn("Authentication failed",
			zap.String("session_id", s.id),
			zap.String("remote_addr", s.remoteAddr),
			zap.String("username", p.Username),
			zap.Error(err),
		)
		_ = s.send(protocol.BuildHandshakeResult(false))
		s.reject(ReasonAuthFailed)
		return err
	}

	// writeMu is held across the state change so the accepted reply is
	// on the wire before any MESSAGE the registry can now route here.
	s.writeMu.Lock()
	s.mu.Lock()
	s.state = StateAuthenticated
	s.username = p.Username
	s.mu.Unlock()
	err := s.writeLocked(protocol.BuildHandshakeResult(true))
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send handshake result: %w", err)
	}

	logging.Info("Session validated",
		zap.String("session_id", s.id),
		zap.String("remote_addr", s.remoteAddr),
		zap.String("username", p.Username),
	)
	s.publish(EventValidated, "")
	return nil
}

func (s *ServerSession) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// SendMessage sends a MESSAGE to an authenticated peer.
func (s *ServerSession) SendMessage(text string) error {
	switch s.State() {
	case StateUnauthenticated:
		return ErrNotValidated
	case StateClosed:
		return ErrClosed
	}
	return s.send(protocol.BuildMessage(text))
}

// Terminate sends TERMINATE with reason and closes the connection.
func (s *ServerSession) Terminate(reason string) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	err := s.send(protocol.BuildTerminate(reason))
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// reject terminates the peer after a protocol violation.
func (s *ServerSession) reject(reason string) {
	logging.Warn("Terminating session",
		zap.String("session_id", s.id),
		zap.String("remote_addr", s.remoteAddr),
		zap.String("reason", reason),
	)
	_ = s.send(protocol.BuildTerminate(reason))
	_ = s.Close()
}

// send encrypts plain in place and writes it as one packet.
func (s *ServerSession) send(plain []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(plain)
}

// writeLocked is send without locking. The caller holds writeMu.
func (s *ServerSession) writeLocked(plain []byte) error {
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	kind := protocol.PacketType(plain[0])
	s.out.Transform(plain)
	if err := s.framer.WritePacket(s.conn, plain); err != nil {
		return err
	}
	logging.LogPacket(s.remoteAddr, "sent", kind.String(), len(plain))
	return nil
}

// Close closes the connection. It is safe to call more than once.
func (s *ServerSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *ServerSession) publish(kind EventKind, text string) {
	s.cfg.Bus.Publish(Event{
		Kind:       kind,
		SessionID:  s.id,
		Username:   s.Username(),
		RemoteAddr: s.remoteAddr,
		Text:       text,
		At:         time.Now(),
	})
}

func (s *ServerSession) finish() {
	s.mu.Lock()
	wasAuthenticated := s.state == StateAuthenticated
	username := s.username
	s.state = StateClosed
	s.mu.Unlock()

	_ = s.Close()
	if wasAuthenticated {
		s.cfg.Registry.Remove(username, s)
	}

	logging.LogConnection(s.remoteAddr, "session_closed")
	s.cfg.Bus.Publish(Event{
		Kind:       EventClosed,
		SessionID:  s.id,
		Username:   username,
		RemoteAddr: s.remoteAddr,
		At:         time.Now(),
	})
}
