package dashboard

import (
	"strings"
	"testing"

	"github.com/kropbot/kropbot/internal/tui/client"
)

func intPtr(v int) *int { return &v }

func TestGaugeSettlesOnMagnitude(t *testing.T) {
	m := New()
	m.SetStatus(client.Status{Magnitude: 0.75, NControllers: 4})
	if !m.Animating() {
		t.Fatal("gauge at 0 should animate toward 0.75")
	}

	for i := 0; i < 10*AnimationFPS && m.Animating(); i++ {
		m.Step()
	}
	if m.Animating() {
		t.Fatal("gauge did not settle within 10s of frames")
	}
	if m.Gauge() != 0.75 {
		t.Errorf("Gauge() = %v, want 0.75", m.Gauge())
	}
}

func TestGaugeMovesTowardTarget(t *testing.T) {
	m := New()
	m.SetStatus(client.Status{Magnitude: 1, NControllers: 1})
	m.Step()
	if g := m.Gauge(); g <= 0 || g >= 1 {
		t.Errorf("after one step Gauge() = %v, want strictly between 0 and 1", g)
	}
}

func TestViewShowsDecision(t *testing.T) {
	m := New()
	m.Width = 100
	m.SetStatus(client.Status{
		Direction:    intPtr(client.DirForward),
		Magnitude:    0.5,
		NControllers: 4,
		TotalCounts:  map[string]int{"none": 0, "8": 2, "4": 1, "2": 1},
	})

	v := m.View()
	if !strings.Contains(v, "forward") {
		t.Error("view should name the winning direction")
	}
	if !strings.Contains(v, "2 of 4 controllers") {
		t.Error("view should show the winner's share of controllers")
	}
	if !strings.Contains(v, "50%") {
		t.Error("view should show the agreement percentage")
	}
}

func TestViewNoControllers(t *testing.T) {
	m := New()
	m.Width = 100
	if v := m.View(); !strings.Contains(v, "No controllers") {
		t.Error("empty state should say there are no controllers")
	}
}

func TestViewMarksOwnVote(t *testing.T) {
	m := New()
	m.Width = 100
	m.Vote = client.DirTurnLeft
	m.SetStatus(client.Status{NControllers: 1, TotalCounts: map[string]int{"6": 1}, Direction: intPtr(client.DirTurnLeft), Magnitude: 1})
	if v := m.View(); !strings.Contains(v, "[↺ 1]") {
		t.Error("own vote should be bracketed")
	}
}
