package server

import (
	"testing"

	"github.com/muurk/rotlink/internal/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsSessionGauge(t *testing.T) {
	m := NewMetrics()

	m.HandleEvent(session.Event{Kind: session.EventValidated, SessionID: "a", Username: "bob"})
	m.HandleEvent(session.Event{Kind: session.EventValidated, SessionID: "b", Username: "alice"})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessions))

	// Authenticated on the registry but the accepted reply never went out,
	// so no validated event was published.
	m.HandleEvent(session.Event{Kind: session.EventClosed, SessionID: "c", Username: "carol"})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessions))

	m.HandleEvent(session.Event{Kind: session.EventClosed, SessionID: "a", Username: "bob"})
	m.HandleEvent(session.Event{Kind: session.EventClosed, SessionID: "a", Username: "bob"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(session.EventValidated))))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.events.WithLabelValues(string(session.EventClosed))))
}
