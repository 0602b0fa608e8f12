package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/rotlink/internal/discovery"
)

// Printer writes styled, non-interactive output for the one-shot commands.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// SetWidth overrides the detected terminal width.
func (p *Printer) SetWidth(width int) *Printer {
	p.width = width
	return p
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Success prints a checkmarked line.
func (p *Printer) Success(format string, args ...any) {
	p.Println(lipgloss.NewStyle().Foreground(SuccessColor).Render("✓ ") + fmt.Sprintf(format, args...))
}

// Failure prints a crossed line.
func (p *Printer) Failure(format string, args ...any) {
	p.Println(ErrorStyle.Render("✗ ") + fmt.Sprintf(format, args...))
}

// Notice prints a muted informational line.
func (p *Printer) Notice(format string, args ...any) {
	p.Println(NoticeStyle.Render(fmt.Sprintf(format, args...)))
}

// Servers prints discovered servers as an aligned table.
func (p *Printer) Servers(servers []*discovery.Server) {
	if len(servers) == 0 {
		p.Notice("No rotlink servers found")
		return
	}

	rows := [][]string{{"INSTANCE", "ADDRESS", "FRAMING", "TLS", "VERSION"}}
	for _, s := range servers {
		tlsCol := "no"
		if s.TLS() {
			tlsCol = "yes"
		}
		rows = append(rows, []string{s.Instance, s.Addr(), s.Framing(), tlsCol, s.Metadata[discovery.TXTVersion]})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, col := range row {
			if len(col) > widths[i] {
				widths[i] = len(col)
			}
		}
	}

	for i, row := range rows {
		cols := make([]string, len(row))
		for j, col := range row {
			cols[j] = col + strings.Repeat(" ", widths[j]-len(col))
		}
		line := strings.TrimRight(strings.Join(cols, "  "), " ")
		if i == 0 {
			line = HeaderParamKeyStyle.UnsetPaddingLeft().Bold(true).Render(line)
		}
		p.Println(line)
	}
}
