// Package tui renders a live session watcher: every debug session, its
// classified errors and patch candidates, and the event feed.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Tabs
const (
	TabSessions = iota
	TabEvents
	tabCount
)

// SessionView represents a debug session in the TUI
type SessionView struct {
	ID          string
	PipelineID  string
	Status      string
	ErrorCount  int
	PatchCount  int
	AppliedDone int
	CreatedAt   time.Time
	Errors      []ErrorView
	Patches     []PatchView
}

// ErrorView is one classified error row
type ErrorView struct {
	Category   string
	Severity   string
	Message    string
	Location   string
	Confidence float64
}

// PatchView is one patch candidate row
type PatchView struct {
	ID          string
	Type        string
	Description string
	Confidence  float64
	Applied     bool
	Rejected    string
}

// EventView is one entry in the event feed
type EventView struct {
	Time      time.Time
	SessionID string
	Type      string
	Detail    string
}

// RefreshFunc fetches fresh session data; the command layer wires it to
// the engine or its HTTP API.
type RefreshFunc func() []SessionView

// Model is the TUI application model
type Model struct {
	sessions []SessionView
	events   []EventView

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int

	refresh     RefreshFunc
	lastRefresh time.Time
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Sessions []SessionView
	Refresh  RefreshFunc
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		sessions: cfg.Sessions,
		refresh:  cfg.Refresh,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg triggers a refresh
type TickMsg time.Time

// SessionsMsg replaces the session list
type SessionsMsg []SessionView

// EventMsg appends to the event feed
type EventMsg EventView

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
