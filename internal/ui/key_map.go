package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the widget.
type keyMap struct {
	retry  key.Binding
	logout key.Binding
	help   key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		retry:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		logout: key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "logout")),
		help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.retry, k.logout, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.retry, k.logout},
		{k.help, k.quit},
	}
}
