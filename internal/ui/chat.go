package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/rotlink/internal/session"
)

// MaxScrollback bounds the lines kept in the chat history.
const MaxScrollback = 500

// Sender delivers chat messages. *session.ClientSession satisfies it.
type Sender interface {
	SendMessage(text string) error
}

// EventMsg carries a session event into the program.
type EventMsg session.Event

type sendResultMsg struct {
	text string
	err  error
}

type chatKeyMap struct {
	Send     key.Binding
	ScrollUp key.Binding
	ScrollDn key.Binding
	Quit     key.Binding
}

func (k chatKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.ScrollUp, k.ScrollDn, k.Quit}
}

func (k chatKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Send, k.Quit}, {k.ScrollUp, k.ScrollDn}}
}

// ChatConfig describes the session the chat is attached to.
type ChatConfig struct {
	Username string
	Server   string
	Params   map[string]string
	Sender   Sender
	// Now stamps history lines. Defaults to time.Now.
	Now func() time.Time
}

// ChatModel is an interactive chat over one client session.
type ChatModel struct {
	cfg ChatConfig

	Input    textinput.Model
	Viewport viewport.Model
	Help     help.Model
	Keys     chatKeyMap
	header   *Header

	lines  []string
	width  int
	height int

	// Closed is set once the connection ended; input is then disabled.
	Closed bool
}

// NewChatModel builds a chat model sized to the current terminal.
func NewChatModel(cfg ChatConfig) ChatModel {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	input := textinput.New()
	input.Placeholder = "Type a message and press Enter"
	input.Prompt = PromptStyle.Render("> ")
	input.CharLimit = 4096
	input.Focus()

	params := map[string]string{"Server": cfg.Server, "User": cfg.Username}
	for k, v := range cfg.Params {
		params[k] = v
	}

	m := ChatModel{
		cfg:      cfg,
		Input:    input,
		Viewport: viewport.New(MinTerminalWidth, MinTerminalRows),
		Help:     help.New(),
		header:   NewHeader("rotlink chat", params),
		Keys: chatKeyMap{
			Send: key.NewBinding(
				key.WithKeys("enter"),
				key.WithHelp("enter", "send"),
			),
			ScrollUp: key.NewBinding(
				key.WithKeys("pgup"),
				key.WithHelp("pgup", "scroll up"),
			),
			ScrollDn: key.NewBinding(
				key.WithKeys("pgdown"),
				key.WithHelp("pgdn", "scroll down"),
			),
			Quit: key.NewBinding(
				key.WithKeys("ctrl+c", "esc"),
				key.WithHelp("ctrl+c", "quit"),
			),
		},
	}
	w, h := GetTerminalSize()
	m.resize(w, h)
	m.notice("connected as " + cfg.Username)
	return m
}

// Init implements tea.Model
func (m ChatModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Send):
			return m.send()
		case key.Matches(msg, m.Keys.ScrollUp), key.Matches(msg, m.Keys.ScrollDn):
			var cmd tea.Cmd
			m.Viewport, cmd = m.Viewport.Update(msg)
			return m, cmd
		}

	case EventMsg:
		m.handleEvent(session.Event(msg))
		return m, nil

	case sendResultMsg:
		if msg.err != nil {
			m.appendLine(ErrorStyle.Render(fmt.Sprintf("failed to send %q: %v", msg.text, msg.err)))
		}
		return m, nil
	}

	if m.Closed {
		return m, nil
	}
	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

func (m ChatModel) send() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.Input.Value())
	if text == "" || m.Closed {
		return m, nil
	}
	m.Input.Reset()
	m.appendLine(OwnMessageStyle.Render(m.cfg.Username+":") + " " + text)

	sender := m.cfg.Sender
	return m, func() tea.Msg {
		if sender == nil {
			return sendResultMsg{text: text, err: session.ErrClosed}
		}
		return sendResultMsg{text: text, err: sender.SendMessage(text)}
	}
}

func (m *ChatModel) handleEvent(e session.Event) {
	switch e.Kind {
	case session.EventMessage:
		m.appendLine(InboundMessageStyle.Render("server:") + " " + e.Text)
	case session.EventTerminated:
		m.appendLine(ErrorStyle.Render("terminated by server: " + e.Text))
		m.close()
	case session.EventClosed:
		if !m.Closed {
			m.notice("connection closed")
		}
		m.close()
	}
}

func (m *ChatModel) close() {
	m.Closed = true
	m.Input.Blur()
	m.Input.Placeholder = "disconnected, press ctrl+c to quit"
}

func (m *ChatModel) notice(text string) {
	m.appendLine(NoticeStyle.Render(text))
}

func (m *ChatModel) appendLine(line string) {
	stamp := TimestampStyle.Render(m.cfg.Now().Format("15:04:05"))
	m.lines = append(m.lines, stamp+" "+line)
	if len(m.lines) > MaxScrollback {
		m.lines = m.lines[len(m.lines)-MaxScrollback:]
	}
	m.Viewport.SetContent(strings.Join(m.lines, "\n"))
	m.Viewport.GotoBottom()
}

func (m *ChatModel) resize(width, height int) {
	m.width, m.height = width, height
	m.header.SetWidth(width)
	m.Help.Width = width
	m.Input.Width = width - 4

	// header, input line and help line
	rows := height - m.header.Height() - 2
	if rows < 3 {
		rows = 3
	}
	m.Viewport.Width = width
	m.Viewport.Height = rows
}

// Lines returns the rendered history.
func (m ChatModel) Lines() []string {
	return append([]string(nil), m.lines...)
}

// View implements tea.Model
func (m ChatModel) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header.Render(),
		m.Viewport.View(),
		m.Input.View(),
		m.Help.View(m.Keys),
	)
}

// Forward returns a listener that feeds session events into p.
func Forward(p *tea.Program) session.Listener {
	return session.ListenerFunc(func(e session.Event) {
		p.Send(EventMsg(e))
	})
}

// RunChat runs the chat UI on an established session until the user quits.
func RunChat(client *session.ClientSession, cfg ChatConfig) error {
	if cfg.Sender == nil {
		cfg.Sender = client
	}
	p := tea.NewProgram(NewChatModel(cfg), tea.WithAltScreen())
	unsubscribe := client.Events().Subscribe(Forward(p))
	defer unsubscribe()

	// The connection may have ended before the listener was attached.
	go func() {
		select {
		case <-client.Done():
			p.Send(EventMsg{Kind: session.EventClosed, Username: cfg.Username})
		default:
		}
	}()

	_, err := p.Run()
	return err
}
