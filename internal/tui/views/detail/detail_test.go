package detail

import (
	"strings"
	"testing"
	"time"

	"github.com/kropbot/kropbot/internal/tui/client"
)

func TestViewWithoutData(t *testing.T) {
	v := Model{}.View()
	if !strings.Contains(v, "No telemetry received") {
		t.Error("empty overlay should say no telemetry")
	}
	if !strings.Contains(v, "unknown") {
		t.Error("empty overlay should show an unknown feed")
	}
}

func TestViewTelemetry(t *testing.T) {
	dir := client.DirBackward
	m := Model{
		Telemetry: &client.Telemetry{
			Seq:       12,
			Direction: &dir,
			Motors: client.MotorCommand{
				Left:  client.Motor{Forward: false, Speed: 200},
				Right: client.Motor{Forward: false, Speed: 200},
			},
			Host: &client.HostStats{CPUPercent: 42, MemoryPercent: 10, UptimeSeconds: 90},
		},
		TelemetryAt: time.Now(),
		Feed:        &client.SourceHealthPayload{Status: client.FeedHealthy, FramesReceived: 30},
	}

	v := m.View()
	for _, want := range []string{"backward", "rev 200", "42%", "30 received", "healthy"} {
		if !strings.Contains(v, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestMotorStopped(t *testing.T) {
	if got := motor(client.Motor{}); !strings.Contains(got, "stopped") {
		t.Errorf("motor(zero) = %q", got)
	}
}

func TestAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s ago"},
		{10 * time.Second, "10s ago"},
		{90 * time.Second, "1m30s ago"},
		{5*time.Minute + 2*time.Second, "5m02s ago"},
		{2*time.Hour + 3*time.Minute + 9*time.Second, "2h03m ago"},
	}
	for _, tt := range tests {
		if got := age(tt.d); got != tt.want {
			t.Errorf("age(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestViewUsesClock(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-75 * time.Second)
	m := Model{
		Feed: &client.SourceHealthPayload{Status: client.FeedDegraded, Robots: 1, LastFrameAt: &last},
		Now:  func() time.Time { return now },
	}
	if v := m.View(); !strings.Contains(v, "1m15s ago") {
		t.Error("last frame age should come from the model clock")
	}
}

func TestViewServerHealth(t *testing.T) {
	m := Model{
		Health: &client.Health{
			UptimeSeconds: 3600,
			Relay:         client.RelayStats{Clients: 5, Subscribers: 4, FramesDropped: 7},
		},
		HealthError: "",
	}
	v := m.View()
	for _, want := range []string{"Server", "5 connected", "4 subscribed", "7 dropped", "1h0m0s"} {
		if !strings.Contains(v, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	m.HealthError = "connection refused"
	if v := m.View(); !strings.Contains(v, "Health error: connection refused") {
		t.Error("health error should be shown")
	}
}
