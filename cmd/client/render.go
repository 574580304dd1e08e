package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Tyrowin/mycord/internal/protocol"
)

const timeLayout = "2006-01-02 15:04:05"

// printer renders received frames as terminal lines.
type printer struct {
	out      io.Writer
	username string
	quiet    bool
	color    bool

	system     lipgloss.Style
	disconnect lipgloss.Style
	mention    lipgloss.Style
}

func newPrinter(out io.Writer, username string, quiet, color bool) *printer {
	return &printer{
		out:        out,
		username:   username,
		quiet:      quiet,
		color:      color,
		system:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		disconnect: lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		mention:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
	}
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// format returns the line for m, and whether the frame ends the session.
func (p *printer) format(m protocol.Message) (string, bool) {
	stamp := m.Time().Format(timeLayout)
	switch m.Kind {
	case protocol.KindMessageRecv:
		line := fmt.Sprintf("[%s] %s: %s", stamp, m.Username, m.Body)
		if !p.quiet && p.mentioned(m.Body) {
			return p.style(p.mention, line) + "\a", false
		}
		return line, false
	case protocol.KindSystem:
		return p.style(p.system, fmt.Sprintf("[%s] SYSTEM: %s", stamp, m.Body)), false
	case protocol.KindDisconnect:
		return p.style(p.disconnect, fmt.Sprintf("[%s] DISCONNECT: %s", stamp, m.Body)), true
	default:
		return p.style(p.disconnect, fmt.Sprintf("unexpected %s frame from server", m.Kind)), false
	}
}

func (p *printer) mentioned(body string) bool {
	return p.username != "" && strings.Contains(body, "@"+p.username)
}

// print writes the line for m and reports whether the session ended.
func (p *printer) print(m protocol.Message) bool {
	line, done := p.format(m)
	fmt.Fprintln(p.out, line)
	return done
}
