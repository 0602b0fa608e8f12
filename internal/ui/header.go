package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Header is the banner shown above the chat: a title and the connection
// parameters.
type Header struct {
	Title  string
	Params map[string]string
	Width  int
}

// NewHeader creates a header sized to the terminal.
func NewHeader(title string, params map[string]string) *Header {
	return &Header{
		Title:  title,
		Params: params,
		Width:  GetTerminalWidth(),
	}
}

// SetWidth sets the terminal width for responsive rendering
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Height returns the number of rows Render produces.
func (h *Header) Height() int {
	return lipgloss.Height(h.Render())
}

// Render returns the styled header. Parameters are listed on one line in
// key order.
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	keys := make([]string, 0, len(h.Params))
	for k := range h.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, HeaderParamKeyStyle.Render(k+":")+" "+HeaderParamValueStyle.Render(h.Params[k]))
	}

	content := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	if len(parts) > 0 {
		content = lipgloss.JoinVertical(lipgloss.Left, content, strings.Join(parts, "  "))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

// String implements fmt.Stringer
func (h *Header) String() string {
	return h.Render()
}
