// Package debug renders the event log overlay: connection changes, votes,
// server rejections and robot feed transitions.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kropbot/kropbot/internal/tui/theme"
)

const capacity = 200

type Kind int

const (
	KindConn Kind = iota
	KindVote
	KindError
	KindFeed
	KindRobot
)

func (k Kind) String() string {
	switch k {
	case KindConn:
		return "ws"
	case KindVote:
		return "vote"
	case KindError:
		return "err"
	case KindFeed:
		return "feed"
	case KindRobot:
		return "bot"
	}
	return "?"
}

func (k Kind) color() lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorAccent
	case KindVote:
		return theme.ColorForward
	case KindError:
		return theme.ColorDanger
	case KindFeed:
		return theme.ColorWarning
	case KindRobot:
		return theme.ColorHealthy
	}
	return theme.ColorDimmed
}

// Entry is one log line. Repeat counts identical lines logged back to back.
type Entry struct {
	At     time.Time
	Kind   Kind
	Text   string
	Repeat int
}

type Model struct {
	entries []Entry
	// scroll is how many entries the view is lifted off the newest one.
	scroll int
	now    func() time.Time
}

func New() Model {
	return Model{now: time.Now}
}

// Log records an event. A line identical to the newest one bumps its
// repeat count instead of taking another row.
func (m *Model) Log(kind Kind, format string, args ...interface{}) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	text := fmt.Sprintf(format, args...)

	if n := len(m.entries); n > 0 {
		last := &m.entries[n-1]
		if last.Kind == kind && last.Text == text {
			last.Repeat++
			last.At = now()
			return
		}
	}

	m.entries = append(m.entries, Entry{At: now(), Kind: kind, Text: text, Repeat: 1})
	if over := len(m.entries) - capacity; over > 0 {
		m.entries = append(m.entries[:0], m.entries[over:]...)
	}
	m.scroll = 0
}

func (m Model) Entries() []Entry { return m.entries }

func (m Model) Len() int { return len(m.entries) }

// Scroll moves the view; positive deltas go back in time.
func (m *Model) Scroll(delta int) {
	m.scroll = min(max(m.scroll+delta, 0), max(len(m.entries)-1, 0))
}

func (m Model) View(width, height int) string {
	inner := max(width-4, 20)
	rows := max(height-6, 3)

	title := theme.StyleHeader.Render(" EVENT LOG ")
	footer := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d events", len(m.entries)))
	panel := lipgloss.NewStyle().
		Width(inner).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)

	if len(m.entries) == 0 {
		return panel.Render(lipgloss.JoinVertical(lipgloss.Left,
			title, "", theme.StyleDimmed.Render("  Nothing has happened yet."), "", footer))
	}

	end := len(m.entries) - m.scroll
	start := max(end-rows, 0)
	textWidth := inner - 20

	var b strings.Builder
	for i := start; i < end; i++ {
		e := m.entries[i]
		text := e.Text
		if e.Repeat > 1 {
			text = fmt.Sprintf("%s (x%d)", text, e.Repeat)
		}
		if textWidth > 3 && len(text) > textWidth {
			text = text[:textWidth-3] + "..."
		}
		if i > start {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s %s",
			theme.StyleDimmed.Render(e.At.Format("15:04:05.000")),
			lipgloss.NewStyle().Foreground(e.Kind.color()).Width(4).Render(e.Kind.String()),
			text)
	}

	more := ""
	if m.scroll > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" %d newer below", m.scroll))
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, b.String(), more, footer))
}
