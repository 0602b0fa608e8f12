package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/session"
	"go.uber.org/zap"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
	feedBuffer     = 64
)

// Feed streams bus events to websocket clients as JSON text frames.
// A client that falls behind loses events rather than stalling the bus.
type Feed struct {
	bus      *session.Bus
	upgrader websocket.Upgrader

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewFeed(bus *session.Bus) *Feed {
	return &Feed{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The endpoint is password protected and serves any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()
	defer f.wg.Done()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Event feed upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	f.serve(conn)
}

func (f *Feed) serve(conn *websocket.Conn) {
	defer conn.Close()
	remoteAddr := conn.RemoteAddr().String()

	events := make(chan session.Event, feedBuffer)
	var dropped int
	var droppedMu sync.Mutex
	unsubscribe := f.bus.Subscribe(session.ListenerFunc(func(e session.Event) {
		select {
		case events <- e:
		default:
			droppedMu.Lock()
			dropped++
			droppedMu.Unlock()
		}
	}))
	defer func() {
		unsubscribe()
		droppedMu.Lock()
		n := dropped
		droppedMu.Unlock()
		logging.Debug("Event feed closed", zap.String("remote_addr", remoteAddr), zap.Int("dropped", n))
	}()

	// The reader only services control frames and notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(feedPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	logging.Debug("Event feed opened", zap.String("remote_addr", remoteAddr))
	for {
		select {
		case e := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-f.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(feedWriteWait))
			return
		}
	}
}

// Close ends every open feed and waits for their handlers to return.
func (f *Feed) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
