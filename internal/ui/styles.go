package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, own messages
	SuccessColor = lipgloss.Color("#43BF6D") // Green - inbound messages
	ErrorColor   = lipgloss.Color("#FF5555") // Red - errors, termination
	WarningColor = lipgloss.Color("#FFA500") // Orange - notices
	MutedColor   = lipgloss.Color("#626262") // Gray - timestamps, help
	TextColor    = lipgloss.Color("#FFFFFF")
)

// Layout constants
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
	MinTerminalRows  = 12
)

var (
	HeaderTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true).
				PaddingLeft(1)

	HeaderParamKeyStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(1)

	HeaderParamValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	TimestampStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	OwnMessageStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	InboundMessageStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	NoticeStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Italic(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	PromptStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)
)

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _ := GetTerminalSize()
	return width
}

// GetTerminalSize returns the terminal width and height clamped to the
// supported layout range.
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, 24
	}
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	if width > MaxContentWidth {
		width = MaxContentWidth
	}
	if height < MinTerminalRows {
		height = MinTerminalRows
	}
	return width, height
}
