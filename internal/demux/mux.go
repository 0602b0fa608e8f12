package demux

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/muurk/rotlink/internal/logging"
	"go.uber.org/zap"
)

// ConnHandler takes ownership of a routed connection.
type ConnHandler interface {
	ServeConn(conn net.Conn)
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(conn net.Conn)

func (f ConnHandlerFunc) ServeConn(conn net.Conn) { f(conn) }

// Rule routes connections whose peeked bytes satisfy Match to Handler.
type Rule struct {
	Name    string
	Match   Matcher
	Handler ConnHandler
}

// DefaultPeekTimeout bounds how long a new connection may stay silent.
const DefaultPeekTimeout = 10 * time.Second

// Mux routes accepted connections by their first bytes.
type Mux struct {
	// PeekLen is the number of bytes to inspect. Defaults to HTTPPrefixLen.
	PeekLen int
	// PeekTimeout defaults to DefaultPeekTimeout. Negative disables it.
	PeekTimeout time.Duration
	Rules       []Rule
	// Default receives connections no rule matched. Nil closes them.
	Default     ConnHandler
	DefaultName string

	mu          sync.Mutex
	listeners   map[net.Listener]struct{}
	activeConns map[net.Conn]struct{}
	closed      bool
	wg          sync.WaitGroup
}

// Serve accepts connections on ln until ln is closed or Close is called.
func (m *Mux) Serve(ln net.Listener) error {
	if !m.trackListener(ln) {
		_ = ln.Close()
		return net.ErrClosed
	}
	defer m.untrackListener(ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || m.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logging.Warn("Temporary accept error", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.ServeConn(conn)
		}()
	}
}

// ServeConn peeks conn and hands it to the matching handler. It blocks until
// the handler returns. A Mux can therefore be used as another Mux's handler.
func (m *Mux) ServeConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	if !m.trackConn(conn) {
		_ = conn.Close()
		return
	}
	defer m.untrackConn(conn)

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Connection handler panicked",
				zap.String("remote_addr", remoteAddr),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			_ = conn.Close()
		}
	}()

	pc, err := Peek(conn, m.peekLen(), m.peekTimeout())
	if err != nil {
		logging.Info("Closing connection before routing",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}

	name, handler := m.route(pc.peeked)
	logging.LogRoute(remoteAddr, name, pc.peeked)
	if handler == nil {
		_ = conn.Close()
		return
	}
	handler.ServeConn(pc)
}

func (m *Mux) route(peeked []byte) (string, ConnHandler) {
	for _, r := range m.Rules {
		if r.Match != nil && r.Match(peeked) {
			return r.Name, r.Handler
		}
	}
	name := m.DefaultName
	if name == "" {
		name = "default"
	}
	return name, m.Default
}

func (m *Mux) peekLen() int {
	if m.PeekLen > 0 {
		return m.PeekLen
	}
	return HTTPPrefixLen
}

func (m *Mux) peekTimeout() time.Duration {
	switch {
	case m.PeekTimeout < 0:
		return 0
	case m.PeekTimeout == 0:
		return DefaultPeekTimeout
	default:
		return m.PeekTimeout
	}
}

func (m *Mux) trackListener(ln net.Listener) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.listeners == nil {
		m.listeners = make(map[net.Listener]struct{})
	}
	m.listeners[ln] = struct{}{}
	return true
}

func (m *Mux) untrackListener(ln net.Listener) {
	m.mu.Lock()
	delete(m.listeners, ln)
	m.mu.Unlock()
}

func (m *Mux) trackConn(conn net.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.activeConns == nil {
		m.activeConns = make(map[net.Conn]struct{})
	}
	m.activeConns[conn] = struct{}{}
	return true
}

func (m *Mux) untrackConn(conn net.Conn) {
	m.mu.Lock()
	delete(m.activeConns, conn)
	m.mu.Unlock()
}

func (m *Mux) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ActiveConnections returns the number of connections still held by handlers.
func (m *Mux) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeConns)
}

// Close stops every Serve loop and closes connections still being handled.
// Connections already handed to a Listener belong to its consumer.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var errs []error
	for ln := range m.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for conn := range m.activeConns {
		_ = conn.Close()
	}
	m.mu.Unlock()

	m.wg.Wait()
	return errors.Join(errs...)
}
