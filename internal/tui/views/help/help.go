// Package help renders the key reference overlay from Markdown.
package help

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kropbot/kropbot/internal/tui/theme"
)

const source = `# Driving kropbot

Every connected controller votes for one direction. The robot follows the
direction with the most votes; **agreement** is the share of controllers
behind it.

| Key | Direction |
| --- | --- |
| ↑ or w | forward |
| ↓ or x | backward |
| ← or a | turn left |
| → or d | turn right |
| q / e | forward left / right |
| z / c | backward left / right |
| space or s | stop |

A held direction is re-sent every 1.5 seconds. A controller that goes
quiet for longer than the session timeout stops counting.

Other keys: **i** robot info, **l** event log, **r** re-read the status
over HTTP, **esc** close, **ctrl+c** quit.
`

// Model caches the rendered text per width.
type Model struct {
	style    string
	width    int
	rendered string
}

// New creates a help model using a glamour standard style ("dark",
// "light", "notty").
func New(style string) Model {
	return Model{style: style}
}

// Render returns the Markdown help wrapped to width, re-rendering only
// when width changes.
func (m *Model) Render(width int) string {
	if width < 30 {
		width = 30
	}
	if m.rendered != "" && m.width == width {
		return m.rendered
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(width),
	)
	out := source
	if err == nil {
		if s, err := r.Render(source); err == nil {
			out = s
		}
	}
	m.width = width
	m.rendered = strings.TrimRight(out, "\n")
	return m.rendered
}

// View renders the overlay panel.
func (m *Model) View(width int) string {
	inner := width - 6
	return lipgloss.NewStyle().
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(m.Render(inner) + "\n" + theme.StyleDimmed.Render("esc:close"))
}
