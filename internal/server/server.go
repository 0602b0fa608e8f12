package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/muurk/rotlink/internal/collector"
	"github.com/muurk/rotlink/internal/config"
	"github.com/muurk/rotlink/internal/demux"
	"github.com/muurk/rotlink/internal/discovery"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/session"
	"github.com/muurk/rotlink/internal/store"
	"github.com/muurk/rotlink/internal/version"
	proxyproto "github.com/pires/go-proxyproto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShutdownTimeout bounds the graceful shutdown triggered by Serve's context.
const ShutdownTimeout = 10 * time.Second

// Route names used in logs and metrics.
const (
	RouteHTTP     = "http"
	RouteSession  = "session"
	RouteTLS      = "tls"
	RouteRedirect = "redirect"
)

type servedListener struct {
	name  string
	ln    net.Listener
	serve func(net.Listener) error
}

// Server owns the shared port, the session registry and the HTTP application.
type Server struct {
	cfg        *config.Config
	tlsConfig  *tls.Config
	sessionCfg *session.ServerConfig

	registry *session.Registry
	bus      *session.Bus
	data     *DataTable
	metrics  *Metrics
	feed     *Feed
	store    *store.EventStore

	// front accepts on the public port. inner routes decrypted TLS
	// streams. terminator accepts relayed TLS on tls.tls_addr.
	front      *demux.Mux
	inner      *demux.Mux
	terminator *demux.Mux

	httpServer     *http.Server
	httpConns      *demux.Listener
	redirectServer *http.Server
	redirectConns  *demux.Listener

	mu        sync.Mutex
	listeners []servedListener
	adv       *discovery.Advertisement
	ctx       context.Context
	cancel    context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New validates cfg and builds a server. Nothing is bound until Listen.
func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keys, err := cfg.KeySet()
	if err != nil {
		return nil, err
	}
	framer, err := cfg.Framer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		registry: session.NewRegistry(session.StaticCredentials(cfg.Credentials())),
		bus:      session.NewBus(),
		data:     NewDataTable(),
		metrics:  NewMetrics(),
	}
	s.feed = NewFeed(s.bus)

	if cfg.TLS.Enabled {
		if s.tlsConfig, err = loadTLSConfig(cfg); err != nil {
			return nil, err
		}
		logging.Info("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}

	if cfg.Store.Path != "" {
		if s.store, err = store.Open(cfg.Store.Path); err != nil {
			return nil, err
		}
	}

	s.bus.Subscribe(session.ListenerFunc(logEvent))
	s.bus.Subscribe(s.data)
	s.bus.Subscribe(s.metrics)
	if s.store != nil {
		s.bus.Subscribe(s.store)
	}

	s.sessionCfg = &session.ServerConfig{
		Keys:             keys,
		Framer:           framer,
		Registry:         s.registry,
		Bus:              s.bus,
		HandshakeTimeout: cfg.Timeouts.Handshake,
		IdleTimeout:      cfg.Timeouts.Idle,
		WriteTimeout:     cfg.Timeouts.Write,
		RateLimit: session.RateLimitConfig{
			MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
			Burst:             cfg.RateLimit.Burst,
			Enabled:           cfg.RateLimit.Enabled,
		},
	}

	publicDir := ""
	if cfg.Website.Enabled {
		publicDir = cfg.Website.PublicDir
	}
	router := NewRouter(RouterConfig{
		AccessPassword: cfg.Website.AccessPassword,
		PublicDir:      publicDir,
		Registry:       s.registry,
		Data:           s.data,
		Feed:           s.feed,
		Metrics:        s.metrics,
		Store:          s.store,
	})
	s.httpServer = &http.Server{Handler: router, ReadHeaderTimeout: cfg.Timeouts.Peek}
	s.httpConns = demux.NewListener(nil)

	sessions := s.metrics.Count(RouteSession, demux.ConnHandlerFunc(s.serveSession))
	httpRoute := demux.Rule{Name: RouteHTTP, Match: demux.IsHTTPRequest, Handler: s.metrics.Count(RouteHTTP, s.httpConns)}

	if s.tlsConfig == nil {
		s.front = &demux.Mux{
			PeekTimeout: cfg.Timeouts.Peek,
			Rules:       []demux.Rule{httpRoute},
			Default:     sessions,
			DefaultName: RouteSession,
		}
		return s, nil
	}

	s.redirectServer = &http.Server{Handler: NewRedirectRouter(), ReadHeaderTimeout: cfg.Timeouts.Peek}
	s.inner = &demux.Mux{
		PeekTimeout: cfg.Timeouts.Peek,
		Rules:       []demux.Rule{httpRoute},
		Default:     sessions,
		DefaultName: RouteSession,
	}
	terminate := demux.ConnHandlerFunc(s.serveTLS)

	if cfg.TLS.TLSAddr != "" && cfg.TLS.RedirectAddr != "" {
		s.front = &demux.Mux{
			PeekLen:     1,
			PeekTimeout: cfg.Timeouts.Peek,
			Rules: []demux.Rule{{
				Name:    RouteTLS,
				Match:   demux.IsTLSHandshake,
				Handler: s.metrics.Count(RouteTLS, &demux.Relay{Addr: cfg.TLS.TLSAddr, DialTimeout: cfg.Timeouts.Dial, ProxyHeader: true}),
			}},
			Default:     s.metrics.Count(RouteRedirect, &demux.Relay{Addr: cfg.TLS.RedirectAddr, DialTimeout: cfg.Timeouts.Dial, ProxyHeader: true}),
			DefaultName: RouteRedirect,
		}
		s.terminator = &demux.Mux{
			PeekLen:     1,
			PeekTimeout: cfg.Timeouts.Peek,
			Rules:       []demux.Rule{{Name: RouteTLS, Match: demux.IsTLSHandshake, Handler: terminate}},
		}
		return s, nil
	}

	s.redirectConns = demux.NewListener(nil)
	s.front = &demux.Mux{
		PeekLen:     1,
		PeekTimeout: cfg.Timeouts.Peek,
		Rules:       []demux.Rule{{Name: RouteTLS, Match: demux.IsTLSHandshake, Handler: s.metrics.Count(RouteTLS, terminate)}},
		Default:     s.metrics.Count(RouteRedirect, s.redirectConns),
		DefaultName: RouteRedirect,
	}
	return s, nil
}

func loadTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if cfg.TLS.Cert != "" {
		return NewTLSConfig(cfg.TLS.Cert, cfg.TLS.Key)
	}
	hosts := []string{"localhost", "127.0.0.1", "::1"}
	if h := cfg.Host; h != "" && h != "0.0.0.0" && h != "::" && h != "localhost" && h != "127.0.0.1" {
		hosts = append([]string{h}, hosts...)
	}
	logging.Info("Generating self-signed certificate", zap.Strings("hosts", hosts))
	certPEM, keyPEM, err := GenerateSelfSigned(hosts, DefaultCertValidity)
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}
	return NewTLSConfigFromMemory(certPEM, keyPEM)
}

// Listen binds the public port and any auxiliary listeners.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) > 0 {
		return errors.New("server: already listening")
	}

	addr := s.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listeners = append(s.listeners, servedListener{name: "public", ln: ln, serve: s.front.Serve})

	bind := func(name, addr string, wrap func(net.Listener) net.Listener, serve func(net.Listener) error) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		if wrap != nil {
			ln = wrap(ln)
		}
		s.listeners = append(s.listeners, servedListener{name: name, ln: ln, serve: serve})
		return nil
	}

	var bindErr error
	if s.terminator != nil {
		proxied := func(ln net.Listener) net.Listener {
			return &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: s.cfg.Timeouts.Peek}
		}
		bindErr = errors.Join(
			bind("tls", s.cfg.TLS.TLSAddr, proxied, s.terminator.Serve),
			bind("redirect", s.cfg.TLS.RedirectAddr, proxied, s.redirectServer.Serve),
		)
	}
	if bindErr == nil && s.cfg.Website.Port != 0 && s.cfg.Website.Port != s.cfg.Port {
		websiteAddr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Website.Port))
		var wrap func(net.Listener) net.Listener
		if s.tlsConfig != nil {
			wrap = func(ln net.Listener) net.Listener { return tls.NewListener(ln, s.tlsConfig) }
		}
		bindErr = bind("website", websiteAddr, wrap, s.httpServer.Serve)
	}
	if bindErr != nil {
		for _, l := range s.listeners {
			_ = l.ln.Close()
		}
		s.listeners = nil
		return bindErr
	}

	for _, l := range s.listeners {
		logging.Info("Server listening for connections",
			zap.String("listener", l.name),
			zap.String("addr", l.ln.Addr().String()),
		)
	}
	return nil
}

// Addr returns the bound public address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].ln.Addr()
}

// Start listens, serves and shuts down on SIGINT or SIGTERM.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logging.Info("Shutdown signal received, stopping server...")
	}()
	return s.Serve(ctx)
}

// Serve runs every listener until ctx is cancelled or one of them fails,
// then shuts the server down. Listen is called if it has not been.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.ctx, s.cancel = ctx, cancel
	listeners := append([]servedListener(nil), s.listeners...)
	s.mu.Unlock()

	s.advertise()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			if err := ignoreServerClosed(l.serve(l.ln)); err != nil {
				return fmt.Errorf("%s listener: %w", l.name, err)
			}
			return nil
		})
	}
	g.Go(func() error { return ignoreServerClosed(s.httpServer.Serve(s.httpConns)) })
	if s.redirectConns != nil {
		g.Go(func() error { return ignoreServerClosed(s.redirectServer.Serve(s.redirectConns)) })
	}
	g.Go(func() error {
		s.reportLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) advertise() {
	if !s.cfg.MDNS.Enabled {
		return
	}
	tcp, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return
	}
	adv, err := discovery.Advertise(s.cfg.MDNS.Instance, tcp.Port, map[string]string{
		discovery.TXTFraming: s.sessionCfg.Framer.Name(),
		discovery.TXTTLS:     strconv.FormatBool(s.tlsConfig != nil),
		discovery.TXTVersion: version.Version,
	})
	if err != nil {
		logging.Warn("mDNS advertisement failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.adv = adv
	s.mu.Unlock()
}

// reportLoop refreshes the root entry of the data table.
func (s *Server) reportLoop(ctx context.Context) {
	s.reportRoot()
	if s.cfg.ReportInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reportRoot()
		}
	}
}

func (s *Server) reportRoot() {
	if err := s.data.SetRoot(collector.Collect([]string{collector.FlagSystem})); err != nil {
		logging.Warn("Failed to record server report", zap.Error(err))
	}
}

func (s *Server) sessionContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// serveSession runs the raw protocol on a routed connection.
func (s *Server) serveSession(conn net.Conn) {
	sess, err := session.NewServerSession(conn, s.sessionCfg)
	if err != nil {
		logging.Error("Failed to create session", zap.Error(err))
		_ = conn.Close()
		return
	}
	logging.LogConnection(sess.RemoteAddr(), "session_opened")
	if err := sess.Serve(s.sessionContext()); err != nil {
		logging.Info("Session ended",
			zap.String("session_id", sess.ID()),
			zap.String("remote_addr", sess.RemoteAddr()),
			zap.Error(err),
		)
	}
}

// serveTLS terminates TLS and routes the decrypted stream.
func (s *Server) serveTLS(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	tlsConn := tls.Server(conn, s.tlsConfig)

	ctx := s.sessionContext()
	if t := s.cfg.Timeouts.Handshake; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		logging.Warn("TLS handshake failed",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}

	state := tlsConn.ConnectionState()
	logging.LogTLSHandshake(remoteAddr, state.Version, state.CipherSuite, state.ServerName)
	s.inner.ServeConn(tlsConn)
}

// Shutdown terminates every session, stops the listeners and waits for
// handlers to return or ctx to expire. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { s.shutdownErr = s.shutdown(ctx) })
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	s.mu.Lock()
	adv, cancel := s.adv, s.cancel
	listeners := append([]servedListener(nil), s.listeners...)
	s.mu.Unlock()

	adv.Shutdown()
	s.registry.Clear(session.ReasonShutdown)
	if cancel != nil {
		cancel()
	}
	s.feed.Close()

	var errs []error
	for _, srv := range []*http.Server{s.httpServer, s.redirectServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	_ = s.httpConns.Close()
	if s.redirectConns != nil {
		_ = s.redirectConns.Close()
	}
	for _, l := range listeners {
		_ = l.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, m := range []*demux.Mux{s.front, s.terminator, s.inner} {
			if m != nil {
				m.Close()
			}
		}
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	logging.Sync()
	return errors.Join(errs...)
}

// Registry returns the live session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Bus returns the event bus every session publishes to.
func (s *Server) Bus() *session.Bus { return s.bus }

// Data returns the latest DATA payload table.
func (s *Server) Data() *DataTable { return s.data }

// ActiveConnections returns the number of routed connections still open.
func (s *Server) ActiveConnections() int {
	n := s.front.ActiveConnections()
	if s.inner != nil {
		n += s.inner.ActiveConnections()
	}
	return n
}

func logEvent(e session.Event) {
	fields := []zap.Field{
		zap.String("session_id", e.SessionID),
		zap.String("username", e.Username),
		zap.String("remote_addr", e.RemoteAddr),
	}
	switch e.Kind {
	case session.EventValidated:
		logging.Info("User validated", fields...)
	case session.EventMessage:
		logging.Info("Message received", append(fields, zap.String("text", e.Text))...)
	case session.EventData:
		logging.Debug("Data received", append(fields, zap.Int("length", len(e.Text)))...)
	default:
		logging.Debug("Session event", append(fields, zap.String("kind", string(e.Kind)))...)
	}
}
