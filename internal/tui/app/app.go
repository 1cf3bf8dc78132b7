package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kropbot/kropbot/internal/tui/client"
	"github.com/kropbot/kropbot/internal/tui/theme"
	"github.com/kropbot/kropbot/internal/tui/views/dashboard"
	"github.com/kropbot/kropbot/internal/tui/views/debug"
	"github.com/kropbot/kropbot/internal/tui/views/detail"
	"github.com/kropbot/kropbot/internal/tui/views/help"
	"github.com/kropbot/kropbot/internal/tui/views/status"
)

// ResendInterval is how often a held vote is re-sent. It must stay well
// under the server's session timeout.
const ResendInterval = 1500 * time.Millisecond

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDetail
	OverlayDebug
	OverlayHelp
)

type resendTickMsg struct{}

type animTickMsg struct{}

type healthMsg struct {
	health *client.Health
	err    error
}

type sendErrMsg struct{ err error }

// polledStatusMsg carries a status fetched over HTTP.
type polledStatusMsg struct {
	status *client.Status
	err    error
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	// Our vote. voted is false until the first key press, so an idle
	// terminal does not count as a controller.
	vote  int
	voted bool

	overlay Overlay
	lastErr string

	// Sub-views.
	statusBar status.Model
	dashboard dashboard.Model
	debug     debug.Model
	detail    detail.Model
	help      help.Model

	// Connection state.
	connected bool
	animating bool
}

// New creates the root model. helpStyle is a glamour standard style.
func New(ws *client.WSClient, http *client.HTTPClient, helpStyle string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		dashboard: dashboard.New(),
		debug:     debug.New(),
		help:      help.New(helpStyle),
	}
	if ws != nil {
		m.statusBar.User = ws.User()
	}
	return m
}

// Init starts the WebSocket connection and the resend ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), resendTick())
}

func resendTick() tea.Cmd {
	return tea.Tick(ResendInterval, func(time.Time) tea.Msg { return resendTickMsg{} })
}

func animTick() tea.Cmd {
	return tea.Tick(time.Second/dashboard.AnimationFPS, func(time.Time) tea.Msg { return animTickMsg{} })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.dashboard.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case resendTickMsg:
		var cmd tea.Cmd
		if m.voted && m.connected {
			cmd = m.sendVote(m.vote)
		}
		return m, tea.Batch(cmd, resendTick())

	case animTickMsg:
		m.dashboard.Step()
		if m.dashboard.Animating() {
			return m, animTick()
		}
		m.animating = false
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.debug.Log(debug.KindConn, "connected")
		var cmd tea.Cmd
		if m.voted {
			cmd = m.sendVote(m.vote)
		}
		return m, tea.Batch(m.ws.ReadLoop(m.ctx), cmd)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.debug.Log(debug.KindConn, "disconnected: %v", msg.Err)
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSStatusMsg:
		m.applyStatus(msg.Status)
		anim := m.startAnimation()
		return m, tea.Batch(m.ws.ReadLoop(m.ctx), anim)

	case client.WSFrameMsg:
		m.statusBar.AddFrame(msg.At)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSTelemetryMsg:
		t := msg.Payload
		m.detail.Telemetry = &t
		m.detail.TelemetryAt = time.Now()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSSourceHealthMsg:
		p := msg.Payload
		m.statusBar.Feed = &p
		m.detail.Feed = &p
		m.debug.Log(debug.KindFeed, "robot feed %s", p.Status)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.lastErr = msg.Payload.Code + ": " + msg.Payload.Message
		m.debug.Log(debug.KindError, "%s", m.lastErr)
		return m, m.ws.ReadLoop(m.ctx)

	case healthMsg:
		if msg.err != nil {
			m.detail.HealthError = msg.err.Error()
			return m, nil
		}
		m.detail.Health = msg.health
		m.detail.HealthError = ""
		if msg.health.Feed != nil {
			m.statusBar.Feed = msg.health.Feed
			m.detail.Feed = msg.health.Feed
		}
		return m, nil

	case sendErrMsg:
		m.debug.Log(debug.KindError, "send: %v", msg.err)
		return m, nil

	case polledStatusMsg:
		if msg.err != nil {
			m.debug.Log(debug.KindError, "status: %v", msg.err)
			return m, nil
		}
		// A live stream is at least as fresh as a poll.
		if m.connected && msg.status.Seq <= m.statusBar.Seq {
			return m, nil
		}
		m.applyStatus(*msg.status)
		anim := m.startAnimation()
		return m, anim
	}

	return m, nil
}

func (m *Model) applyStatus(st client.Status) {
	m.dashboard.SetStatus(st)
	m.statusBar.Controllers = st.NControllers
	m.statusBar.Seq = st.Seq
}

func (m *Model) startAnimation() tea.Cmd {
	if m.animating || !m.dashboard.Animating() {
		return nil
	}
	m.animating = true
	return animTick()
}

// sendVote writes off the update loop.
func (m Model) sendVote(dir int) tea.Cmd {
	ws := m.ws
	if ws == nil {
		return nil
	}
	return func() tea.Msg {
		if err := ws.SendInstruction(dir); err != nil {
			return sendErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) fetchHealth() tea.Cmd {
	hc, ctx := m.http, m.ctx
	if hc == nil {
		return nil
	}
	return func() tea.Msg {
		h, err := hc.GetHealth(ctx)
		return healthMsg{health: h, err: err}
	}
}

func (m Model) fetchStatus() tea.Cmd {
	hc, ctx := m.http, m.ctx
	if hc == nil {
		return nil
	}
	return func() tea.Msg {
		st, err := hc.GetStatus(ctx)
		return polledStatusMsg{status: st, err: err}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.ScrollUp):
			m.debug.Scroll(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.ScrollDown):
			m.debug.Scroll(-1)
		case m.overlay == OverlayDetail && key.Matches(msg, m.keys.Refresh):
			return m, m.fetchHealth()
		}
		return m, nil
	}

	if dir, ok := m.keys.direction(msg); ok {
		m.vote = dir
		m.voted = true
		m.lastErr = ""
		m.dashboard.Vote = dir
		m.debug.Log(debug.KindVote, "%s", theme.DirectionName(dir))
		return m, m.sendVote(dir)
	}

	switch {
	case key.Matches(msg, m.keys.Info):
		m.overlay = OverlayDetail
		return m, m.fetchHealth()

	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.fetchStatus()
	}

	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlayDetail:
		body = m.detail.View()
	case OverlayDebug:
		body = m.debug.View(m.width, m.height-4)
	case OverlayHelp:
		body = m.help.View(m.width)
	default:
		body = m.dashboard.View()
		if !m.connected {
			body = lipgloss.JoinVertical(lipgloss.Left, body, m.renderDisconnected())
		}
	}

	footer := theme.StyleDimmed.Render("  arrows/qweadzxc:vote  space:stop  i:robot  l:log  ?:help  ctrl+c:quit")
	if m.lastErr != "" {
		footer = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("  "+m.lastErr) + "\n" + footer
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.statusBar.View(), body, footer)
}

func (m Model) renderDisconnected() string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorDanger).
		Bold(true).
		Padding(1, 2).
		Render("DISCONNECTED - Reconnecting...")
}
