package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/ncx/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgEngineEvent MsgKind = iota
	MsgRunComplete
)

type runOutcome struct {
	result *tasks.MigrationResult
	err    error
}

// engineEventMsg is the constructor for [MsgEngineEvent]
func engineEventMsg(evt tasks.Event) Msg {
	return Msg{kind: MsgEngineEvent, data: evt}
}

// runCompleteMsg is the constructor for [MsgRunComplete]
func runCompleteMsg(result *tasks.MigrationResult, err error) Msg {
	return Msg{kind: MsgRunComplete, data: runOutcome{result, err}}
}
