// Package detail renders the robot info flyout overlay: what the robot
// reports about itself and what the server sees of its feed.
package detail

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kropbot/kropbot/internal/tui/client"
	"github.com/kropbot/kropbot/internal/tui/theme"
)

const (
	width    = 64
	meter    = 20
	maxSpeed = 255
)

var (
	labelStyle = theme.StyleDimmed.Width(14)
	valueStyle = lipgloss.NewStyle().Foreground(theme.ColorBright)
	headStyle  = theme.StyleHeader
	subStyle   = theme.StyleDimmed.Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(theme.ColorDanger)
)

// Model holds the state for the robot overlay.
type Model struct {
	Telemetry   *client.Telemetry
	TelemetryAt time.Time
	Feed        *client.SourceHealthPayload
	Health      *client.Health
	HealthError string

	// Now defaults to time.Now.
	Now func() time.Time
}

// panel accumulates label/value rows under optional section headings.
type panel struct {
	b strings.Builder
}

func (p *panel) section(title string) {
	if p.b.Len() > 0 {
		p.b.WriteByte('\n')
	}
	p.b.WriteString(subStyle.Render(title) + "\n")
}

func (p *panel) row(label, format string, args ...interface{}) {
	p.b.WriteString(labelStyle.Render(label+":") + valueStyle.Render(fmt.Sprintf(format, args...)) + "\n")
}

func (p *panel) line(s string) {
	p.b.WriteString(s + "\n")
}

func (m Model) View() string {
	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}

	var p panel
	p.line(headStyle.Render("Robot"))
	p.line(strings.Repeat("─", width-4))
	m.feed(&p, now)
	m.telemetry(&p, now)
	m.server(&p)
	p.line("")
	p.b.WriteString(theme.StyleDimmed.Render("[r] refresh  [esc] close"))

	return theme.StyleBorder.Padding(0, 1).Width(width).Render(p.b.String())
}

func (m Model) feed(p *panel, now time.Time) {
	f := m.Feed
	if f == nil {
		p.row("Feed", "unknown")
		return
	}
	status := lipgloss.NewStyle().Foreground(theme.HealthColor(string(f.Status))).Render(string(f.Status))
	p.row("Feed", "%s  %d robot(s)", status, f.Robots)
	p.row("Frames", "%d received  %d rejected", f.FramesReceived, f.FramesRejected)
	if f.LastFrameAt != nil {
		p.row("Last Frame", "%s", age(now.Sub(*f.LastFrameAt)))
	}
	if f.LastError != "" {
		p.row("Last Error", "%s", clip(f.LastError, 44))
	}
}

func (m Model) telemetry(p *panel, now time.Time) {
	p.section("Telemetry")
	t := m.Telemetry
	if t == nil {
		p.line(theme.StyleDimmed.Render("  No telemetry received"))
		return
	}

	dir := client.DirNone
	if t.Direction != nil {
		dir = *t.Direction
	}
	heading := lipgloss.NewStyle().Foreground(theme.DirectionColor(dir)).
		Render(theme.DirectionArrow(dir) + " " + theme.DirectionName(dir))
	p.row("Driving", "%s  %.0f%% of %d", heading, t.Magnitude*100, t.NControllers)
	p.row("Applied Seq", "%d", t.Seq)
	p.row("Left Motor", "%s", motor(t.Motors.Left))
	p.row("Right Motor", "%s", motor(t.Motors.Right))

	if h := t.Host; h != nil {
		p.row("CPU", "%s %.0f%%", theme.Bar(h.CPUPercent/100, meter, theme.ColorAccent), h.CPUPercent)
		p.row("Memory", "%s %.0f%%", theme.Bar(h.MemoryPercent/100, meter, theme.ColorAccent), h.MemoryPercent)
		p.row("Uptime", "%s", time.Duration(h.UptimeSeconds)*time.Second)
	}
	if !m.TelemetryAt.IsZero() {
		p.row("Reported", "%s", age(now.Sub(m.TelemetryAt)))
	}
}

func (m Model) server(p *panel) {
	if h := m.Health; h != nil {
		p.section("Server")
		p.row("Uptime", "%s", time.Duration(h.UptimeSeconds)*time.Second)
		p.row("Clients", "%d connected  %d subscribed", h.Relay.Clients, h.Relay.Subscribers)
		p.row("Relayed", "%d frames  %d dropped", h.Relay.FramesRelayed, h.Relay.FramesDropped)
		p.row("Published", "%d statuses  %d slow clients", h.Relay.StatusPublished, h.Relay.PublishFailures)
	}
	if m.HealthError != "" {
		p.line("")
		p.line(errStyle.Render("Health error: " + m.HealthError))
	}
}

func motor(mo client.Motor) string {
	if mo.Speed == 0 {
		return theme.StyleDimmed.Render("stopped")
	}
	label, color := "fwd", theme.ColorForward
	if !mo.Forward {
		label, color = "rev", theme.ColorBackward
	}
	return fmt.Sprintf("%s %s %d", theme.Bar(float64(mo.Speed)/maxSpeed, meter, color), label, mo.Speed)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// age renders an elapsed duration coarsely, e.g. "1m30s ago".
func age(d time.Duration) string {
	d = max(d, 0)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d/time.Second))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds ago", int(d/time.Minute), int(d%time.Minute/time.Second))
	}
	return fmt.Sprintf("%dh%02dm ago", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
