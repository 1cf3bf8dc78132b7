// Package dashboard renders the consensus: a compass of per-direction vote
// counts and an animated agreement gauge.
package dashboard

import (
	"fmt"
	"math"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/kropbot/kropbot/internal/tui/client"
	"github.com/kropbot/kropbot/internal/tui/theme"
)

// AnimationFPS is the rate the app should call Step while Animating.
const AnimationFPS = 30

const (
	gaugeWidth = 30
	cellWidth  = 9
	settleEps  = 0.002
)

// compass lays the direction codes out as they point.
var compass = [3][3]int{
	{client.DirForwardLeft, client.DirForward, client.DirForwardRight},
	{client.DirTurnLeft, client.DirNone, client.DirTurnRight},
	{client.DirBackwardLeft, client.DirBackward, client.DirBackwardRight},
}

// Model holds the dashboard state.
type Model struct {
	Width  int
	Status client.Status
	Vote   int // this client's current vote

	spring   harmonica.Spring
	gauge    float64
	velocity float64
}

// New creates a dashboard model.
func New() Model {
	return Model{
		spring: harmonica.NewSpring(harmonica.FPS(AnimationFPS), 6.0, 0.9),
	}
}

// SetStatus replaces the displayed state. The gauge eases toward the new
// magnitude over the following Steps.
func (m *Model) SetStatus(st client.Status) {
	m.Status = st
}

// Step advances the gauge animation one frame.
func (m *Model) Step() {
	m.gauge, m.velocity = m.spring.Update(m.gauge, m.velocity, m.Status.Magnitude)
	if !m.Animating() {
		m.gauge, m.velocity = m.Status.Magnitude, 0
	}
}

// Animating reports whether the gauge still differs from the magnitude.
func (m Model) Animating() bool {
	return math.Abs(m.gauge-m.Status.Magnitude) > settleEps || math.Abs(m.velocity) > settleEps
}

// Gauge returns the currently displayed magnitude.
func (m Model) Gauge() float64 {
	return m.gauge
}

// View renders the compass and gauge side by side.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderDecision(),
		"",
		m.renderGauge(),
	)
	content := lipgloss.JoinHorizontal(lipgloss.Top, m.renderCompass(), "   ", right)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderCompass() string {
	winner := m.Status.Dir()
	rows := make([]string, 0, len(compass))
	for _, row := range compass {
		cells := make([]string, 0, len(row))
		for _, dir := range row {
			cells = append(cells, m.renderCell(dir, dir == winner && m.Status.NControllers > 0))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderCell(dir int, winning bool) string {
	style := lipgloss.NewStyle().
		Width(cellWidth).
		Align(lipgloss.Center).
		Foreground(theme.DirectionColor(dir))
	if winning {
		style = style.Bold(true).Reverse(true)
	}
	label := fmt.Sprintf("%s %d", theme.DirectionArrow(dir), m.Status.Count(dir))
	if dir == m.Vote {
		label = "[" + label + "]"
	}
	return style.Render(label)
}

func (m Model) renderDecision() string {
	st := m.Status
	if st.NControllers == 0 {
		return theme.StyleDimmed.Render("No controllers")
	}
	dir := st.Dir()
	name := lipgloss.NewStyle().Bold(true).Foreground(theme.DirectionColor(dir)).
		Render(theme.DirectionArrow(dir) + " " + theme.DirectionName(dir))
	votes := theme.StyleDimmed.Render(fmt.Sprintf("%d of %d controllers", st.Count(dir), st.NControllers))
	return name + "  " + votes
}

func (m Model) renderGauge() string {
	color := theme.MagnitudeColor(m.Status.Magnitude)
	bar := theme.Bar(m.gauge, gaugeWidth, color)
	label := lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf(" %3.0f%%", m.Status.Magnitude*100))
	return "agreement " + bar + label
}
