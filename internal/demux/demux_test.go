package demux

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekPreservesBytes(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	payload := "GET /index.html HTTP/1.1\r\n\r\n"
	go func() {
		_, _ = client.Write([]byte(payload))
		_ = client.Close()
	}()

	pc, err := Peek(server, 4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "GET ", string(pc.Peeked()))

	all, err := io.ReadAll(pc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(all))
}

func TestPeekTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_, err := Peek(server, 4, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrPeekTimeout)
}

func TestPeekShortRead(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	go func() {
		_, _ = client.Write([]byte("ab"))
		_ = client.Close()
	}()

	_, err := Peek(server, 4, time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPeekTimeout))
	assert.ErrorIs(t, err, io.EOF)
}

func TestPeekInvalidLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_, err := Peek(server, 0, time.Second)
	assert.Error(t, err)
}

func TestIsHTTPRequest(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"GET /", true},
		{"POST", true},
		{"HEAD", true},
		{"PUT /x", true},
		{"DEL /x", true},
		{"XYZQ", false},
		{"get ", false},
		{"GET", false},
		{"", false},
		{"\x16\x03\x01\x00", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHTTPRequest([]byte(tt.in)))
		})
	}
}

func TestIsTLSHandshake(t *testing.T) {
	assert.True(t, IsTLSHandshake([]byte{0x16, 0x03, 0x01}))
	assert.False(t, IsTLSHandshake([]byte("GET ")))
	assert.False(t, IsTLSHandshake(nil))
}

// recorder captures everything written on routed connections.
type recorder struct {
	mu    sync.Mutex
	got   map[string]string
	ready chan string
}

func newRecorder() *recorder {
	return &recorder{got: make(map[string]string), ready: make(chan string, 8)}
}

func (r *recorder) handler(name string) ConnHandler {
	return ConnHandlerFunc(func(conn net.Conn) {
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		r.mu.Lock()
		r.got[name] = string(b)
		r.mu.Unlock()
		r.ready <- name
	})
}

func (r *recorder) wait(t *testing.T) (string, string) {
	t.Helper()
	select {
	case name := <-r.ready:
		r.mu.Lock()
		defer r.mu.Unlock()
		return name, r.got[name]
	case <-time.After(2 * time.Second):
		t.Fatal("no connection routed")
		return "", ""
	}
}

func startMux(t *testing.T, m *Mux) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = m.Serve(ln) }()
	t.Cleanup(func() { _ = m.Close() })
	return ln.Addr().String()
}

func send(t *testing.T, addr, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestMuxRoutesAndPreservesBytes(t *testing.T) {
	rec := newRecorder()
	m := &Mux{
		Rules:       []Rule{{Name: "http", Match: IsHTTPRequest, Handler: rec.handler("http")}},
		Default:     rec.handler("raw"),
		DefaultName: "raw",
		PeekTimeout: time.Second,
	}
	addr := startMux(t, m)

	tests := []struct {
		payload   string
		wantRoute string
	}{
		{"GET / HTTP/1.1\r\nHost: x\r\n\r\n", "http"},
		{"XYZQ and the rest of a raw packet", "raw"},
		{"POST /api/data HTTP/1.1\r\n\r\nsecret", "http"},
	}
	for _, tt := range tests {
		send(t, addr, tt.payload)
		name, got := rec.wait(t)
		assert.Equal(t, tt.wantRoute, name)
		assert.Equal(t, tt.payload, got)
	}
}

func TestMuxClosesSilentConnections(t *testing.T) {
	m := &Mux{PeekTimeout: 50 * time.Millisecond, Default: ConnHandlerFunc(func(c net.Conn) {
		t.Error("silent connection should not be routed")
		_ = c.Close()
	})}
	addr := startMux(t, m)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestMuxRecoversHandlerPanic(t *testing.T) {
	rec := newRecorder()
	m := &Mux{
		Rules: []Rule{{Name: "boom", Match: func(b []byte) bool { return b[0] == 'B' }, Handler: ConnHandlerFunc(func(net.Conn) {
			panic("boom")
		})}},
		Default: rec.handler("raw"),
	}
	addr := startMux(t, m)

	send(t, addr, "BOOM")
	send(t, addr, "fine")
	name, got := rec.wait(t)
	assert.Equal(t, "raw", name)
	assert.Equal(t, "fine", got)
}

func TestMuxClose(t *testing.T) {
	m := &Mux{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Serve(ln) }()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	assert.Equal(t, 0, m.ActiveConnections())
}

func TestListenerFeedsHTTPServer(t *testing.T) {
	ln := NewListener(nil)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "path="+r.URL.Path)
	})}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	server, client := net.Pipe()
	go ln.ServeConn(server)

	_, err := io.WriteString(client, "GET /hello HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "path=/hello", string(body))
}

func TestListenerClose(t *testing.T) {
	ln := NewListener(nil)
	require.NoError(t, ln.Close())
	require.NoError(t, ln.Close())

	_, err := ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)

	server, client := net.Pipe()
	defer client.Close()
	ln.ServeConn(server)

	_, err = server.Write([]byte("x"))
	assert.Error(t, err, "ServeConn on a closed listener closes the connection")
	assert.Equal(t, "demux", ln.Addr().String())
}

func TestRelay(t *testing.T) {
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backend.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
		_, _ = io.WriteString(conn, strings.ToUpper(line))
	}()

	server, client := net.Pipe()
	defer client.Close()
	go func() {
		pc, err := Peek(server, 4, time.Second)
		if err != nil {
			_ = server.Close()
			return
		}
		(&Relay{Addr: backend.Addr().String()}).ServeConn(pc)
	}()

	_, err = io.WriteString(client, "hello relay\n")
	require.NoError(t, err)

	select {
	case line := <-received:
		assert.Equal(t, "hello relay\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("backend received nothing")
	}

	reply, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HELLO RELAY\n", reply)
}

func TestRelayProxyHeader(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	backend := &proxyproto.Listener{Listener: raw}
	defer backend.Close()

	type seen struct {
		remote string
		line   string
	}
	received := make(chan seen, 1)
	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- seen{remote: conn.RemoteAddr().String(), line: line}
	}()

	front, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer front.Close()
	go func() {
		conn, err := front.Accept()
		if err != nil {
			return
		}
		(&Relay{Addr: raw.Addr().String(), ProxyHeader: true}).ServeConn(conn)
	}()

	client, err := net.Dial("tcp", front.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	_, err = io.WriteString(client, "behind proxy\n")
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "behind proxy\n", got.line)
		assert.Equal(t, client.LocalAddr().String(), got.remote)
	case <-time.After(2 * time.Second):
		t.Fatal("backend received nothing")
	}
}

func TestRelayHalfClose(t *testing.T) {
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backend.Close()

	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Answer only after the client has finished sending.
		body, _ := io.ReadAll(conn)
		time.Sleep(50 * time.Millisecond)
		_, _ = io.WriteString(conn, "got "+strings.ToUpper(string(body)))
	}()

	front, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer front.Close()
	go func() {
		conn, err := front.Accept()
		if err != nil {
			return
		}
		pc, err := Peek(conn, 4, time.Second)
		if err != nil {
			_ = conn.Close()
			return
		}
		(&Relay{Addr: backend.Addr().String()}).ServeConn(pc)
	}()

	client, err := net.Dial("tcp", front.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = io.WriteString(client, "request body")
	require.NoError(t, err)
	require.NoError(t, client.(*net.TCPConn).CloseWrite())

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "got REQUEST BODY", string(reply))
}
