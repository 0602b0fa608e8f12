package server

import (
	"net"
	"net/http"
	"sync"

	"github.com/muurk/rotlink/internal/demux"
	"github.com/muurk/rotlink/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes connection and session counters on /metrics.
type Metrics struct {
	registry    *prometheus.Registry
	connections *prometheus.CounterVec
	events      *prometheus.CounterVec
	sessions    prometheus.Gauge

	mu sync.Mutex
	// validated holds the ids of sessions counted in the gauge.
	validated map[string]struct{}
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		validated: make(map[string]struct{}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rotlink",
			Name:      "connections_total",
			Help:      "Accepted connections by demultiplexer route.",
		}, []string{"route"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rotlink",
			Name:      "session_events_total",
			Help:      "Session events by kind.",
		}, []string{"kind"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rotlink",
			Name:      "authenticated_sessions",
			Help:      "Currently authenticated sessions.",
		}),
	}
	m.registry.MustRegister(m.connections, m.events, m.sessions)
	return m
}

// HandleEvent updates the event counters and the session gauge.
func (m *Metrics) HandleEvent(e session.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e.Kind {
	case session.EventValidated:
		if _, ok := m.validated[e.SessionID]; !ok {
			m.validated[e.SessionID] = struct{}{}
			m.sessions.Inc()
		}
	case session.EventClosed:
		if _, ok := m.validated[e.SessionID]; ok {
			delete(m.validated, e.SessionID)
			m.sessions.Dec()
		}
	}
}

// Count wraps h so every routed connection increments the route counter.
func (m *Metrics) Count(route string, h demux.ConnHandler) demux.ConnHandler {
	counter := m.connections.WithLabelValues(route)
	return demux.ConnHandlerFunc(func(conn net.Conn) {
		counter.Inc()
		h.ServeConn(conn)
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
