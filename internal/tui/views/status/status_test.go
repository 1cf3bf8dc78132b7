package status

import (
	"strings"
	"testing"
	"time"

	"github.com/kropbot/kropbot/internal/tui/client"
)

func TestFPSWindow(t *testing.T) {
	m := New()
	start := time.Now()
	for i := 0; i < 10; i++ {
		m.AddFrame(start.Add(time.Duration(i) * 200 * time.Millisecond))
	}
	// 10 frames over 1.8s, all inside the window.
	if got := m.FPS(); got != 5 {
		t.Errorf("FPS() = %v, want 5", got)
	}

	m.AddFrame(start.Add(10 * time.Second))
	if got := m.FPS(); got != 0.5 {
		t.Errorf("FPS() after gap = %v, want 0.5", got)
	}
}

func TestViewShowsFeed(t *testing.T) {
	m := New()
	m.Width = 120
	m.Connected = true
	m.Controllers = 3
	m.Feed = &client.SourceHealthPayload{Status: client.FeedDegraded}

	v := m.View()
	for _, want := range []string{"Connected", "3 controllers", "robot: degraded"} {
		if !strings.Contains(v, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestViewUnknownFeed(t *testing.T) {
	m := New()
	m.Width = 120
	if v := m.View(); !strings.Contains(v, "robot: unknown") {
		t.Error("View() without feed health should say unknown")
	}
}
