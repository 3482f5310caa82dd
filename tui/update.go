package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// maxFeedLen bounds the in-memory event feed
const maxFeedLen = 200

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		case "j", "down":
			if m.activeTab == TabSessions && m.selectedRow < len(m.sessions)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
		case "g":
			m.selectedRow = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(tickCmd(), m.refreshCmd())

	case SessionsMsg:
		m.sessions = msg
		m.lastRefresh = time.Now()
		if m.selectedRow >= len(m.sessions) && len(m.sessions) > 0 {
			m.selectedRow = len(m.sessions) - 1
		}

	case EventMsg:
		m.events = append(m.events, EventView(msg))
		if len(m.events) > maxFeedLen {
			m.events = m.events[len(m.events)-maxFeedLen:]
		}
	}

	return m, nil
}

// refreshCmd runs the configured refresh function off the update loop
func (m Model) refreshCmd() tea.Cmd {
	if m.refresh == nil {
		return nil
	}
	refresh := m.refresh
	return func() tea.Msg {
		return SessionsMsg(refresh())
	}
}

// SetSessions replaces the session list
func (m *Model) SetSessions(sessions []SessionView) {
	m.sessions = sessions
}

// Selected returns the highlighted session, or nil
func (m *Model) Selected() *SessionView {
	if m.selectedRow < 0 || m.selectedRow >= len(m.sessions) {
		return nil
	}
	return &m.sessions[m.selectedRow]
}
