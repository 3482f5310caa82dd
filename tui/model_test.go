package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func sampleSessions() []SessionView {
	return []SessionView{
		{
			ID: "aaaa-1111", PipelineID: "build-42", Status: "awaiting-approval",
			ErrorCount: 1, PatchCount: 1,
			Errors: []ErrorView{
				{Category: "dependency", Severity: "high", Message: "peer dep missing react-router", Confidence: 1.0},
			},
			Patches: []PatchView{
				{ID: "p1", Type: "template", Description: "add missing dependency react-router to package.json", Confidence: 1.0},
			},
		},
		{ID: "bbbb-2222", PipelineID: "deploy-7", Status: "completed", ErrorCount: 2, PatchCount: 1, AppliedDone: 1},
		{ID: "cccc-3333", PipelineID: "test-9", Status: "failed"},
	}
}

func keyMsg(key string) tea.KeyMsg {
	if key == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestNavigationMovesSelection(t *testing.T) {
	m := NewModel(ModelConfig{Sessions: sampleSessions()})

	updated, _ := m.Update(keyMsg("j"))
	m = updated.(Model)
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d, want 1", m.selectedRow)
	}

	updated, _ = m.Update(keyMsg("j"))
	m = updated.(Model)
	updated, _ = m.Update(keyMsg("j"))
	m = updated.(Model)
	if m.selectedRow != 2 {
		t.Errorf("selection moved past the last row: %d", m.selectedRow)
	}

	updated, _ = m.Update(keyMsg("k"))
	m = updated.(Model)
	if m.selectedRow != 1 {
		t.Errorf("selectedRow = %d, want 1", m.selectedRow)
	}

	updated, _ = m.Update(keyMsg("g"))
	m = updated.(Model)
	if m.selectedRow != 0 {
		t.Errorf("g should jump to top, got %d", m.selectedRow)
	}
}

func TestTabSwitching(t *testing.T) {
	m := NewModel(ModelConfig{Sessions: sampleSessions()})

	updated, _ := m.Update(keyMsg("tab"))
	m = updated.(Model)
	if m.activeTab != TabEvents {
		t.Errorf("activeTab = %d, want events", m.activeTab)
	}

	updated, _ = m.Update(keyMsg("tab"))
	m = updated.(Model)
	if m.activeTab != TabSessions {
		t.Errorf("activeTab = %d, want sessions", m.activeTab)
	}
}

func TestQuitKeys(t *testing.T) {
	m := NewModel(ModelConfig{})
	for _, key := range []string{"q"} {
		_, cmd := m.Update(keyMsg(key))
		if cmd == nil {
			t.Errorf("key %q should quit", key)
		}
	}
}

func TestSessionsMsgReplacesListAndClampsSelection(t *testing.T) {
	m := NewModel(ModelConfig{Sessions: sampleSessions()})
	m.selectedRow = 2

	updated, _ := m.Update(SessionsMsg(sampleSessions()[:1]))
	m = updated.(Model)
	if len(m.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(m.sessions))
	}
	if m.selectedRow != 0 {
		t.Errorf("selectedRow = %d, want clamped to 0", m.selectedRow)
	}
}

func TestEventFeedIsBounded(t *testing.T) {
	m := NewModel(ModelConfig{})
	for i := 0; i < maxFeedLen+50; i++ {
		updated, _ := m.Update(EventMsg{Time: time.Now(), SessionID: "s", Type: "session.status"})
		m = updated.(Model)
	}
	if len(m.events) != maxFeedLen {
		t.Errorf("events = %d, want bounded at %d", len(m.events), maxFeedLen)
	}
}

func TestViewRendersSessions(t *testing.T) {
	m := NewModel(ModelConfig{Sessions: sampleSessions()})
	m.width = 120
	m.height = 40

	out := m.View()
	for _, want := range []string{"build-42", "awaiting-approval", "dependency", "template", "completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewRendersEventFeed(t *testing.T) {
	m := NewModel(ModelConfig{})
	m.activeTab = TabEvents
	updated, _ := m.Update(EventMsg{Time: time.Now(), SessionID: "sess-1", Type: "patch.applied", Detail: "p1"})
	m = updated.(Model)

	out := m.View()
	if !strings.Contains(out, "patch.applied") {
		t.Error("view missing event type")
	}
}

func TestViewEmptyStates(t *testing.T) {
	m := NewModel(ModelConfig{})
	if out := m.View(); !strings.Contains(out, "no sessions") {
		t.Error("empty session list should render placeholder")
	}
	m.activeTab = TabEvents
	if out := m.View(); !strings.Contains(out, "no events yet") {
		t.Error("empty event feed should render placeholder")
	}
}

func TestSelected(t *testing.T) {
	m := NewModel(ModelConfig{Sessions: sampleSessions()})
	if sel := m.Selected(); sel == nil || sel.ID != "aaaa-1111" {
		t.Errorf("Selected() = %+v", sel)
	}

	empty := NewModel(ModelConfig{})
	if sel := empty.Selected(); sel != nil {
		t.Errorf("Selected() on empty model = %+v, want nil", sel)
	}
}
