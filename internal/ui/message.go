package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the widget (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgUpdate MsgKind = iota
	MsgTick
	MsgClosed
)

// updateMsg is the constructor for [MsgUpdate]
func updateMsg(u tasks.Update) Msg {
	return Msg{kind: MsgUpdate, data: u}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}

// closedMsg is the constructor for [MsgClosed], sent when the update channel closes
func closedMsg() Msg {
	return Msg{kind: MsgClosed}
}
