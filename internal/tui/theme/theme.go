// Package theme provides the Lip Gloss color palette and reusable styles
// for the kropbot TUI. It is a leaf package with no internal imports to
// avoid import cycles.
package theme

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Direction colors, grouped by heading: forward greens, turns ambers,
// backward reds.
var (
	ColorForward  = lipgloss.Color("#22c55e")
	ColorTurn     = lipgloss.Color("#d97706")
	ColorBackward = lipgloss.Color("#dc2626")
	ColorStop     = lipgloss.Color("#9ca3af")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// Magnitude gauge thresholds.
var (
	ColorAgreeLow  = lipgloss.Color("#dc2626") // <40%
	ColorAgreeMid  = lipgloss.Color("#d97706") // 40-70%
	ColorAgreeHigh = lipgloss.Color("#22c55e") // >70%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorAccent  = lipgloss.Color("#2563eb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

var directionArrows = [9]string{"■", "↗", "↻", "↘", "↓", "↙", "↺", "↖", "↑"}

var directionNames = [9]string{
	"stop", "forward right", "turn right", "backward right", "backward",
	"backward left", "turn left", "forward left", "forward",
}

// DirectionArrow returns a one-cell glyph for a direction code.
func DirectionArrow(dir int) string {
	if dir < 0 || dir >= len(directionArrows) {
		return "?"
	}
	return directionArrows[dir]
}

func DirectionName(dir int) string {
	if dir < 0 || dir >= len(directionNames) {
		return "unknown"
	}
	return directionNames[dir]
}

// DirectionColor returns the Lip Gloss color for a direction code.
func DirectionColor(dir int) lipgloss.Color {
	switch dir {
	case 1, 7, 8:
		return ColorForward
	case 2, 6:
		return ColorTurn
	case 3, 4, 5:
		return ColorBackward
	case 0:
		return ColorStop
	default:
		return ColorDefault
	}
}

// HealthColor returns the color for a feed status string.
func HealthColor(status string) lipgloss.Color {
	switch status {
	case "healthy":
		return ColorHealthy
	case "degraded":
		return ColorWarning
	case "offline":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// MagnitudeColor returns the gauge color for an agreement share.
func MagnitudeColor(pct float64) lipgloss.Color {
	switch {
	case pct > 0.7:
		return ColorAgreeHigh
	case pct >= 0.4:
		return ColorAgreeMid
	default:
		return ColorAgreeLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)

// Bar draws a horizontal meter of width cells, pct of them filled.
func Bar(pct float64, width int, fill lipgloss.Color) string {
	pct = max(0, min(pct, 1))
	filled := int(math.Round(pct * float64(width)))
	return lipgloss.NewStyle().Foreground(fill).Render(strings.Repeat("█", filled)) +
		lipgloss.NewStyle().Foreground(ColorBorder).Render(strings.Repeat("░", width-filled))
}
