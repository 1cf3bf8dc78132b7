package app

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kropbot/kropbot/internal/tui/client"
)

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Forward       key.Binding
	Backward      key.Binding
	TurnLeft      key.Binding
	TurnRight     key.Binding
	ForwardLeft   key.Binding
	ForwardRight  key.Binding
	BackwardLeft  key.Binding
	BackwardRight key.Binding
	Stop          key.Binding

	ScrollUp   key.Binding
	ScrollDown key.Binding
	Info       key.Binding
	Log        key.Binding
	Help       key.Binding
	Refresh    key.Binding
	Escape     key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Forward: key.NewBinding(
			key.WithKeys("up", "w"),
			key.WithHelp("↑/w", "forward"),
		),
		Backward: key.NewBinding(
			key.WithKeys("down", "x"),
			key.WithHelp("↓/x", "backward"),
		),
		TurnLeft: key.NewBinding(
			key.WithKeys("left", "a"),
			key.WithHelp("←/a", "turn left"),
		),
		TurnRight: key.NewBinding(
			key.WithKeys("right", "d"),
			key.WithHelp("→/d", "turn right"),
		),
		ForwardLeft: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "forward left"),
		),
		ForwardRight: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "forward right"),
		),
		BackwardLeft: key.NewBinding(
			key.WithKeys("z"),
			key.WithHelp("z", "backward left"),
		),
		BackwardRight: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "backward right"),
		),
		Stop: key.NewBinding(
			key.WithKeys(" ", "s"),
			key.WithHelp("space/s", "stop"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("k", "pgup"),
			key.WithHelp("k", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("j", "pgdown"),
			key.WithHelp("j", "scroll down"),
		),
		Info: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "robot info"),
		),
		Log: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "event log"),
		),
		Help: key.NewBinding(
			key.WithKeys("?", "h"),
			key.WithHelp("?", "help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}

// direction maps a key to the direction it votes for.
func (k KeyMap) direction(msg tea.KeyMsg) (int, bool) {
	bindings := []struct {
		b   key.Binding
		dir int
	}{
		{k.Forward, client.DirForward},
		{k.Backward, client.DirBackward},
		{k.TurnLeft, client.DirTurnLeft},
		{k.TurnRight, client.DirTurnRight},
		{k.ForwardLeft, client.DirForwardLeft},
		{k.ForwardRight, client.DirForwardRight},
		{k.BackwardLeft, client.DirBackwardLeft},
		{k.BackwardRight, client.DirBackwardRight},
		{k.Stop, client.DirNone},
	}
	for _, kb := range bindings {
		if key.Matches(msg, kb.b) {
			return kb.dir, true
		}
	}
	return 0, false
}
