package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Bold(true)

	dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	helpStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Padding(0, 1)

	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	waitingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("selfheal — debug sessions"))
	b.WriteString("  ")
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.activeTab {
	case TabSessions:
		b.WriteString(m.renderSessions())
		if sel := m.Selected(); sel != nil {
			b.WriteString("\n")
			b.WriteString(m.renderDetail(sel))
		}
	case TabEvents:
		b.WriteString(m.renderEvents())
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("j/k move · tab switch · r refresh · q quit"))
	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Sessions", "Events"}
	tabs := make([]string, len(names))
	for i, name := range names {
		if i == m.activeTab {
			tabs[i] = tabActiveStyle.Render(name)
		} else {
			tabs[i] = tabInactiveStyle.Render(name)
		}
	}
	return strings.Join(tabs, "  ")
}

func (m Model) renderSessions() string {
	if len(m.sessions) == 0 {
		return sectionStyle.Render(dimStyle.Render("no sessions"))
	}

	var rows []string
	rows = append(rows, dimStyle.Render(fmt.Sprintf("%-10s %-16s %-18s %7s %7s %8s",
		"ID", "PIPELINE", "STATUS", "ERRORS", "PATCHES", "APPLIED")))

	for i, s := range m.sessions {
		row := fmt.Sprintf("%-10s %-16s %-18s %7d %7d %8d",
			shorten(s.ID, 10), shorten(s.PipelineID, 16),
			statusStyle(s.Status).Render(fmt.Sprintf("%-18s", s.Status)),
			s.ErrorCount, s.PatchCount, s.AppliedDone)
		if i == m.selectedRow {
			row = selectedStyle.Render(row)
		}
		rows = append(rows, row)
	}
	return sectionStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderDetail(s *SessionView) string {
	var rows []string
	rows = append(rows, titleStyle.Render(fmt.Sprintf("session %s", shorten(s.ID, 12))))

	if len(s.Errors) > 0 {
		rows = append(rows, dimStyle.Render("errors"))
		for _, e := range s.Errors {
			line := fmt.Sprintf("  %-14s %-8s %s", e.Category, e.Severity, shorten(e.Message, 60))
			if e.Location != "" {
				line += dimStyle.Render(" @ " + e.Location)
			}
			rows = append(rows, line)
		}
	}

	if len(s.Patches) > 0 {
		rows = append(rows, dimStyle.Render("patches"))
		for _, p := range s.Patches {
			marker := " "
			switch {
			case p.Applied:
				marker = completedStyle.Render("✓")
			case p.Rejected != "":
				marker = failedStyle.Render("✗")
			}
			line := fmt.Sprintf("  %s %-16s %.2f %s", marker, p.Type, p.Confidence, shorten(p.Description, 56))
			if p.Rejected != "" {
				line += failedStyle.Render(" (" + p.Rejected + ")")
			}
			rows = append(rows, line)
		}
	}

	if len(s.Errors) == 0 && len(s.Patches) == 0 {
		rows = append(rows, dimStyle.Render("analysis pending"))
	}
	return sectionStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderEvents() string {
	if len(m.events) == 0 {
		return sectionStyle.Render(dimStyle.Render("no events yet"))
	}

	visible := m.events
	max := m.height - 8
	if max > 0 && len(visible) > max {
		visible = visible[len(visible)-max:]
	}

	var rows []string
	for _, e := range visible {
		rows = append(rows, fmt.Sprintf("%s  %-10s %-24s %s",
			dimStyle.Render(e.Time.Format("15:04:05")),
			shorten(e.SessionID, 10), e.Type, shorten(e.Detail, 50)))
	}
	return sectionStyle.Render(strings.Join(rows, "\n"))
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return completedStyle
	case "failed", "cancelled":
		return failedStyle
	case "awaiting-approval":
		return waitingStyle
	default:
		return activeStyle
	}
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
