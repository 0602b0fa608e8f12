package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/muurk/rotlink/internal/config"
	"github.com/muurk/rotlink/internal/protocol"
	"github.com/muurk/rotlink/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Logins = []config.Login{
		{Username: "bob", Password: "secret"},
		{Username: "alice", Password: "hunter2"},
	}
	cfg.Keys = config.Keys{PrimeX: 4, PrimeY: 9, InboundSeed: "1234567", OutboundSeed: "7654321"}
	cfg.Framing = protocol.FramingLength
	cfg.Website.AccessPassword = testPassword
	cfg.Timeouts.Peek = waitTimeout
	return cfg
}

type running struct {
	srv    *Server
	cfg    *config.Config
	addr   string
	events chan session.Event
}

func startServer(t *testing.T, mutate func(*config.Config)) *running {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	r := &running{srv: srv, cfg: cfg, addr: srv.Addr().String(), events: make(chan session.Event, 256)}
	srv.Bus().Subscribe(session.ListenerFunc(func(e session.Event) {
		select {
		case r.events <- e:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-serveErr:
			assert.NoError(t, err)
		case <-time.After(2 * ShutdownTimeout):
			t.Error("server did not stop")
		}
	})
	return r
}

func (r *running) dial(t *testing.T, username, password string, tlsConfig *tls.Config) (*session.ClientSession, chan session.Event) {
	t.Helper()
	keys, err := r.cfg.KeySet()
	require.NoError(t, err)
	framer, err := r.cfg.Framer()
	require.NoError(t, err)

	received := make(chan session.Event, 64)
	client, ok, err := session.Dial(context.Background(), &session.ClientConfig{
		Addr:             r.addr,
		Username:         username,
		Password:         password,
		Keys:             keys,
		Framer:           framer,
		DialTimeout:      waitTimeout,
		HandshakeTimeout: waitTimeout,
		WriteTimeout:     waitTimeout,
		TLSConfig:        tlsConfig,
		OnEvent:          session.ListenerFunc(func(e session.Event) { received <- e }),
	})
	require.NoError(t, err)
	require.True(t, ok, "handshake rejected")
	t.Cleanup(func() { _ = client.Close() })
	return client, received
}

func waitFor(t *testing.T, ch <-chan session.Event, kind session.EventKind) session.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", kind, waitTimeout)
			return session.Event{}
		}
	}
}

func httpClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Timeout:   waitTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig, DisableKeepAlives: true},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestSessionAndHTTPShareThePort(t *testing.T) {
	r := startServer(t, nil)

	client, received := r.dial(t, "bob", "secret", nil)
	validated := waitFor(t, r.events, session.EventValidated)
	assert.Equal(t, "bob", validated.Username)

	require.NoError(t, client.SendMessage("hi"))
	msg := waitFor(t, r.events, session.EventMessage)
	assert.Equal(t, "bob", msg.Username)
	assert.Equal(t, "hi", msg.Text)

	resp, err := httpClient(nil).Get("http://" + r.addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, float64(1), health["sessions"])

	req, err := http.NewRequest(http.MethodPost, "http://"+r.addr+"/api/broadcast", strings.NewReader(`{"text":"from the web"}`))
	require.NoError(t, err)
	req.Header.Set(PasswordHeader, testPassword)
	req.Header.Set("Content-Type", "application/json")
	resp, err = httpClient(nil).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	inbound := waitFor(t, received, session.EventMessage)
	assert.Equal(t, "from the web", inbound.Text)
}

func TestRawFramingEndToEnd(t *testing.T) {
	r := startServer(t, func(c *config.Config) { c.Framing = protocol.FramingRaw })

	client, _ := r.dial(t, "bob", "secret", nil)
	waitFor(t, r.events, session.EventValidated)

	require.NoError(t, client.SendMessage("hi"))
	msg := waitFor(t, r.events, session.EventMessage)
	assert.Equal(t, "hi", msg.Text)
}

func TestDataReachesDataEndpoint(t *testing.T) {
	r := startServer(t, nil)

	client, _ := r.dial(t, "alice", "hunter2", nil)
	require.NoError(t, client.SendData(map[string]int{"cpus": 8}))
	waitFor(t, r.events, session.EventData)

	require.Eventually(t, func() bool {
		_, ok := r.srv.Data().Get("root")
		return ok
	}, waitTimeout, 20*time.Millisecond, "server never reported its own data")

	resp, err := httpClient(nil).Post("http://"+r.addr+"/api/data", "text/plain", strings.NewReader(testPassword))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.JSONEq(t, `{"cpus":8}`, string(body["alice"]))
	assert.Contains(t, string(body["root"]), "systemInfo")
}

func TestBadCredentialsOverTheWire(t *testing.T) {
	r := startServer(t, nil)
	keys, err := r.cfg.KeySet()
	require.NoError(t, err)

	client, ok, err := session.Dial(context.Background(), &session.ClientConfig{
		Addr:             r.addr,
		Username:         "bob",
		Password:         "wrong",
		Keys:             keys,
		Framer:           protocol.LengthFramer{},
		HandshakeTimeout: waitTimeout,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	select {
	case <-client.Done():
	case <-time.After(waitTimeout):
		t.Fatal("rejected client was not closed")
	}
	assert.Equal(t, 0, r.srv.Registry().Len())
}

func TestShutdownTerminatesSessions(t *testing.T) {
	r := startServer(t, nil)
	client, received := r.dial(t, "bob", "secret", nil)
	waitFor(t, r.events, session.EventValidated)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, r.srv.Shutdown(ctx))

	terminated := waitFor(t, received, session.EventTerminated)
	assert.Equal(t, session.ReasonShutdown, terminated.Text)

	select {
	case <-client.Done():
	case <-time.After(waitTimeout):
		t.Fatal("client still connected after shutdown")
	}
	assert.Equal(t, 0, r.srv.Registry().Len())

	_, err := net.DialTimeout("tcp", r.addr, 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed")
}

func TestSilentConnectionIsDropped(t *testing.T) {
	r := startServer(t, func(c *config.Config) { c.Timeouts.Peek = 100 * time.Millisecond })

	conn, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestTLSFront(t *testing.T) {
	r := startServer(t, func(c *config.Config) {
		c.TLS.Enabled = true
		c.TLS.GenerateCert = true
	})
	insecure := &tls.Config{InsecureSkipVerify: true}

	client, _ := r.dial(t, "bob", "secret", insecure)
	waitFor(t, r.events, session.EventValidated)
	require.NoError(t, client.SendMessage("over tls"))
	assert.Equal(t, "over tls", waitFor(t, r.events, session.EventMessage).Text)

	resp, err := httpClient(insecure).Get("https://" + r.addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = httpClient(nil).Get("http://" + r.addr + "/healthz?probe=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "https://"+r.addr+"/healthz?probe=1", resp.Header.Get("Location"))
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestTLSRelayFront(t *testing.T) {
	r := startServer(t, func(c *config.Config) {
		c.TLS.Enabled = true
		c.TLS.GenerateCert = true
		c.TLS.TLSAddr = freeAddr(t)
		c.TLS.RedirectAddr = freeAddr(t)
	})
	insecure := &tls.Config{InsecureSkipVerify: true}

	client, _ := r.dial(t, "alice", "hunter2", insecure)
	validated := waitFor(t, r.events, session.EventValidated)
	assert.Equal(t, client.LocalAddr(), validated.RemoteAddr, "PROXY header carries the client address")

	resp, err := httpClient(nil).Get("http://" + r.addr + "/x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "https://"+r.addr+"/x", resp.Header.Get("Location"))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Logins = append(cfg.Logins, config.Login{Username: "root", Password: "x"})
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
