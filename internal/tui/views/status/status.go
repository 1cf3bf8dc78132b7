package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kropbot/kropbot/internal/tui/client"
	"github.com/kropbot/kropbot/internal/tui/theme"
)

// fpsWindow is how far back frames are counted for the frame rate.
const fpsWindow = 2 * time.Second

// Model holds the status bar state.
type Model struct {
	Connected   bool
	User        string
	Controllers int
	Seq         uint64
	Feed        *client.SourceHealthPayload
	Width       int

	frames []time.Time
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// AddFrame records a frame arrival for the frame rate display.
func (m *Model) AddFrame(at time.Time) {
	m.frames = append(m.frames, at)
	cutoff := at.Add(-fpsWindow)
	i := 0
	for i < len(m.frames) && m.frames[i].Before(cutoff) {
		i++
	}
	m.frames = m.frames[i:]
}

// FPS returns the frame rate over the recent window.
func (m Model) FPS() float64 {
	return float64(len(m.frames)) / fpsWindow.Seconds()
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	user := m.User
	if len(user) > 8 {
		user = user[:8]
	}
	counts := fmt.Sprintf("%d controllers  seq %d  you %s", m.Controllers, m.Seq, user)

	feed := "robot: unknown"
	color := theme.ColorDimmed
	if m.Feed != nil {
		feed = fmt.Sprintf("robot: %s", m.Feed.Status)
		color = theme.HealthColor(string(m.Feed.Status))
	}
	healthStr := lipgloss.NewStyle().Foreground(color).Render(feed)
	fps := theme.StyleDimmed.Render(fmt.Sprintf("%.1f fps", m.FPS()))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + counts + sep + healthStr + " " + fps

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)

	return bar
}
