package app

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kropbot/kropbot/internal/tui/client"
	"github.com/kropbot/kropbot/internal/tui/views/debug"
)

func intPtr(v int) *int { return &v }

func newTestModel() Model {
	m := New(nil, nil, "notty")
	m.width = 100
	m.height = 30
	m.statusBar.Width = 100
	m.dashboard.Width = 100
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestDirectionKeys(t *testing.T) {
	tests := []struct {
		name string
		msg  tea.KeyMsg
		want int
	}{
		{"up arrow", tea.KeyMsg{Type: tea.KeyUp}, client.DirForward},
		{"w", runeKey('w'), client.DirForward},
		{"down arrow", tea.KeyMsg{Type: tea.KeyDown}, client.DirBackward},
		{"left arrow", tea.KeyMsg{Type: tea.KeyLeft}, client.DirTurnLeft},
		{"d", runeKey('d'), client.DirTurnRight},
		{"q", runeKey('q'), client.DirForwardLeft},
		{"e", runeKey('e'), client.DirForwardRight},
		{"z", runeKey('z'), client.DirBackwardLeft},
		{"c", runeKey('c'), client.DirBackwardRight},
		{"space", tea.KeyMsg{Type: tea.KeySpace}, client.DirNone},
	}

	keys := DefaultKeyMap()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := keys.direction(tt.msg)
			if !ok {
				t.Fatalf("%s is not a direction key", tt.msg)
			}
			if got != tt.want {
				t.Errorf("direction(%s) = %d, want %d", tt.msg, got, tt.want)
			}
		})
	}

	if _, ok := keys.direction(runeKey('i')); ok {
		t.Error("i should not vote")
	}
}

func TestVoteKeyRecordsVote(t *testing.T) {
	m := newTestModel()
	if m.voted {
		t.Fatal("new model should not have voted")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if !m.voted || m.vote != client.DirForward {
		t.Fatalf("vote = %d (voted %v), want forward", m.vote, m.voted)
	}
	if m.dashboard.Vote != client.DirForward {
		t.Error("dashboard should mark our vote")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	if !m.voted || m.vote != client.DirNone {
		t.Errorf("after space vote = %d, want stop", m.vote)
	}
}

func TestStatusUpdatesViews(t *testing.T) {
	m := newTestModel()
	m.connected = true
	m = update(t, m, client.WSStatusMsg{Status: client.Status{
		Direction:    intPtr(client.DirForward),
		Magnitude:    1,
		NControllers: 2,
		TotalCounts:  map[string]int{"8": 2},
		Seq:          7,
	}})

	if m.statusBar.Controllers != 2 || m.statusBar.Seq != 7 {
		t.Errorf("status bar = %d controllers seq %d", m.statusBar.Controllers, m.statusBar.Seq)
	}
	if !m.animating {
		t.Error("a new magnitude should start the gauge animation")
	}
	if v := m.View(); !strings.Contains(v, "2 of 2 controllers") {
		t.Error("view should show the decision")
	}
}

func TestOverlays(t *testing.T) {
	m := newTestModel()

	m = update(t, m, runeKey('l'))
	if m.overlay != OverlayDebug {
		t.Fatalf("overlay = %d, want debug", m.overlay)
	}
	// Direction keys do nothing while an overlay is open.
	m = update(t, m, runeKey('w'))
	if m.voted {
		t.Error("keys behind an overlay should not vote")
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Fatal("esc should close the overlay")
	}

	m = update(t, m, runeKey('?'))
	if m.overlay != OverlayHelp {
		t.Fatalf("overlay = %d, want help", m.overlay)
	}
	if v := m.View(); !strings.Contains(v, "Driving kropbot") {
		t.Error("help overlay should render the key reference")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m = update(t, m, runeKey('i'))
	if m.overlay != OverlayDetail {
		t.Fatalf("overlay = %d, want detail", m.overlay)
	}
}

func TestServerErrorShown(t *testing.T) {
	m := newTestModel()
	m.connected = true
	m = update(t, m, client.WSErrorMsg{Payload: client.ErrorPayload{Code: "rate_limited", Message: "slow down"}})

	if v := m.View(); !strings.Contains(v, "rate_limited: slow down") {
		t.Error("view should show the last server error")
	}
	if m.debug.Len() != 1 || m.debug.Entries()[0].Kind != debug.KindError {
		t.Errorf("event log = %+v, want one err entry", m.debug.Entries())
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	if m.lastErr != "" {
		t.Error("a new vote should clear the last error")
	}
}

func TestSourceHealthAndTelemetry(t *testing.T) {
	m := newTestModel()
	m = update(t, m, client.WSSourceHealthMsg{Payload: client.SourceHealthPayload{Status: client.FeedDegraded}})
	if m.statusBar.Feed == nil || m.statusBar.Feed.Status != client.FeedDegraded {
		t.Error("status bar should show the feed status")
	}

	m = update(t, m, client.WSTelemetryMsg{Payload: client.Telemetry{Seq: 3}})
	if m.detail.Telemetry == nil || m.detail.Telemetry.Seq != 3 {
		t.Error("detail overlay should hold the latest telemetry")
	}
}

func TestHealthError(t *testing.T) {
	m := newTestModel()
	m = update(t, m, healthMsg{err: errors.New("connection refused")})
	if m.detail.HealthError != "connection refused" {
		t.Errorf("HealthError = %q", m.detail.HealthError)
	}
}

func TestDisconnectOverlay(t *testing.T) {
	m := newTestModel()
	m.connected = false

	v := m.View()
	if !strings.Contains(v, "DISCONNECTED") {
		t.Error("disconnect overlay should contain 'DISCONNECTED'")
	}
	if !strings.Contains(v, "Reconnecting") {
		t.Error("disconnect overlay should contain 'Reconnecting'")
	}
}

func TestResendOnlyAfterVoting(t *testing.T) {
	m := newTestModel()
	m.connected = true
	// No ws client in tests, so sendVote yields nil; the tick must still
	// re-arm itself.
	_, cmd := m.Update(resendTickMsg{})
	if cmd == nil {
		t.Fatal("resend tick should re-arm")
	}
}

func TestPolledStatus(t *testing.T) {
	m := newTestModel()
	m = update(t, m, polledStatusMsg{status: &client.Status{
		Direction:    intPtr(client.DirTurnLeft),
		Magnitude:    1,
		NControllers: 1,
		Seq:          4,
	}})
	if m.statusBar.Seq != 4 || m.dashboard.Status.Dir() != client.DirTurnLeft {
		t.Fatalf("polled status not applied: seq %d", m.statusBar.Seq)
	}

	// While connected, an older poll must not overwrite the stream.
	m.connected = true
	m = update(t, m, polledStatusMsg{status: &client.Status{Seq: 2}})
	if m.statusBar.Seq != 4 {
		t.Errorf("seq = %d, stale poll applied", m.statusBar.Seq)
	}

	m = update(t, m, polledStatusMsg{err: errors.New("connection refused")})
	if m.debug.Len() == 0 || m.debug.Entries()[m.debug.Len()-1].Kind != debug.KindError {
		t.Error("a failed poll should be logged")
	}
}
