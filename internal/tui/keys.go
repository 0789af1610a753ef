package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit    key.Binding
	Help    key.Binding
	TabNext key.Binding
	TabPrev key.Binding
	Launch  key.Binding
	Release key.Binding
	Sweep   key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	TabNext: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next tab"),
	),
	TabPrev: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev tab"),
	),
	Launch: key.NewBinding(
		key.WithKeys("enter", "l"),
		key.WithHelp("enter", "launch"),
	),
	Release: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "release lock"),
	),
	Sweep: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "sweep stale"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// ShortHelp returns a compact list for the help bar.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.TabNext, k.Launch, k.Release, k.Refresh, k.Help, k.Quit}
}

// FullHelp returns grouped bindings for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.TabNext, k.TabPrev},
		{k.Launch, k.Release, k.Sweep},
		{k.Refresh, k.Help, k.Quit},
	}
}
