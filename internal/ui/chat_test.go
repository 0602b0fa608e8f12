package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muurk/rotlink/internal/discovery"
	"github.com/muurk/rotlink/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) SendMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return s.err
}

func newTestChat(sender Sender) ChatModel {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewChatModel(ChatConfig{
		Username: "bob",
		Server:   "127.0.0.1:9900",
		Sender:   sender,
		Now:      func() time.Time { return fixed },
	})
}

func update(t *testing.T, m ChatModel, msg tea.Msg) (ChatModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	cm, ok := next.(ChatModel)
	require.True(t, ok)
	return cm, cmd
}

func typeText(t *testing.T, m ChatModel, text string) ChatModel {
	t.Helper()
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return m
}

func lastLine(m ChatModel) string {
	lines := m.Lines()
	return lines[len(lines)-1]
}

func TestChatSendsOnEnter(t *testing.T) {
	sender := &recordingSender{}
	m := newTestChat(sender)
	m = typeText(t, m, "hello there")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, m.Input.Value(), "input is cleared after sending")
	assert.Contains(t, lastLine(m), "bob: hello there")
	assert.Contains(t, lastLine(m), "03:04:05")

	result := cmd()
	assert.Equal(t, []string{"hello there"}, sender.sent)

	m, _ = update(t, m, result)
	assert.Contains(t, lastLine(m), "bob: hello there", "successful sends add no extra line")
}

func TestChatIgnoresBlankInput(t *testing.T) {
	sender := &recordingSender{}
	m := newTestChat(sender)
	before := len(m.Lines())

	m = typeText(t, m, "   ")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Len(t, m.Lines(), before)
}

func TestChatReportsSendFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("broken pipe")}
	m := newTestChat(sender)
	m = typeText(t, m, "hi")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Contains(t, lastLine(m), "broken pipe")
}

func TestChatAppendsInboundAndTerminate(t *testing.T) {
	sender := &recordingSender{}
	m := newTestChat(sender)

	m, _ = update(t, m, EventMsg{Kind: session.EventMessage, Text: "welcome"})
	assert.Contains(t, lastLine(m), "server: welcome")
	assert.False(t, m.Closed)

	m, _ = update(t, m, EventMsg{Kind: session.EventTerminated, Text: "server shutting down"})
	assert.Contains(t, lastLine(m), "terminated by server: server shutting down")
	assert.True(t, m.Closed)

	count := len(m.Lines())
	m, _ = update(t, m, EventMsg{Kind: session.EventClosed})
	assert.Len(t, m.Lines(), count, "closed after terminate adds nothing")

	m = typeText(t, m, "too late")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, sender.sent)
}

func TestChatClosedWithoutTerminate(t *testing.T) {
	m := newTestChat(&recordingSender{})
	m, _ = update(t, m, EventMsg{Kind: session.EventClosed})
	assert.True(t, m.Closed)
	assert.Contains(t, lastLine(m), "connection closed")
}

func TestChatQuit(t *testing.T) {
	m := newTestChat(&recordingSender{})

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestChatScrollbackIsBounded(t *testing.T) {
	m := newTestChat(&recordingSender{})
	for i := 0; i < MaxScrollback+50; i++ {
		m, _ = update(t, m, EventMsg{Kind: session.EventMessage, Text: "line"})
	}
	assert.Len(t, m.Lines(), MaxScrollback)
}

func TestChatResizeAndView(t *testing.T) {
	m := newTestChat(&recordingSender{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	assert.Equal(t, 80, m.Viewport.Width)
	assert.Greater(t, m.Viewport.Height, 3)

	view := m.View()
	assert.Contains(t, view, "ROTLINK CHAT")
	assert.Contains(t, view, "127.0.0.1:9900")
	assert.Contains(t, view, "connected as bob")
}

func TestHeaderSortsParams(t *testing.T) {
	h := NewHeader("title", map[string]string{"B": "2", "A": "1"}).SetWidth(80)
	out := h.Render()
	assert.Less(t, strings.Index(out, "A:"), strings.Index(out, "B:"))
	assert.Equal(t, out, h.String())
}

func TestPrinterServers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf).SetWidth(80)

	p.Servers(nil)
	assert.Contains(t, buf.String(), "No rotlink servers found")

	buf.Reset()
	p.Servers([]*discovery.Server{{
		Instance: "lab",
		IP:       "192.168.1.20",
		Port:     9900,
		Metadata: map[string]string{discovery.TXTFraming: "length", discovery.TXTTLS: "true", discovery.TXTVersion: "v1.0.0"},
	}})
	out := buf.String()
	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "192.168.1.20:9900")
	assert.Contains(t, out, "length")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "v1.0.0")
}

func TestPrinterLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Success("sent %d", 1)
	p.Failure("failed: %s", "nope")
	assert.Contains(t, buf.String(), "sent 1")
	assert.Contains(t, buf.String(), "failed: nope")
}
