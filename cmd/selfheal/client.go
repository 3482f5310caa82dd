package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/selfheal/tui"
	"github.com/hochfrequenz/selfheal/web/api"
)

// apiClient reads the engine's HTTP API for the TUI
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// fetchSessions pulls the session list; network failures render as an
// empty list rather than crashing the watcher.
func (c *apiClient) fetchSessions() []tui.SessionView {
	resp, err := c.http.Get(c.base + "/api/sessions")
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	var sessions []api.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil
	}

	views := make([]tui.SessionView, 0, len(sessions))
	for _, s := range sessions {
		view := tui.SessionView{
			ID:         s.ID,
			PipelineID: s.PipelineID,
			Status:     s.Status,
			ErrorCount: len(s.Errors),
			PatchCount: len(s.Patches),
		}
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			view.CreatedAt = t
		}
		for _, e := range s.Errors {
			view.Errors = append(view.Errors, tui.ErrorView{
				Category:   e.Category,
				Severity:   e.Severity,
				Message:    e.Message,
				Location:   e.Location,
				Confidence: e.Confidence,
			})
		}
		for _, p := range s.Patches {
			if p.Applied {
				view.AppliedDone++
			}
			view.Patches = append(view.Patches, tui.PatchView{
				ID:          p.ID,
				Type:        p.Type,
				Description: p.Description,
				Confidence:  p.Confidence,
				Applied:     p.Applied,
				Rejected:    p.Rejected,
			})
		}
		views = append(views, view)
	}
	return views
}

// streamEvents follows the SSE endpoint and feeds the event feed,
// reconnecting with a small backoff when the stream drops.
func (c *apiClient) streamEvents(p *tea.Program) {
	for {
		c.streamOnce(p)
		time.Sleep(2 * time.Second)
	}
}

func (c *apiClient) streamOnce(p *tea.Program) {
	// No client timeout here; the stream is long-lived.
	resp, err := http.Get(c.base + "/api/events")
	if err != nil {
		return
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var event struct {
				SessionID string          `json:"session_id"`
				Type      string          `json:"type"`
				Payload   json.RawMessage `json:"payload"`
				Timestamp time.Time       `json:"timestamp"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			if eventType == "degraded" {
				continue
			}
			p.Send(tui.EventMsg{
				Time:      event.Timestamp,
				SessionID: event.SessionID,
				Type:      event.Type,
				Detail:    strings.TrimSpace(string(event.Payload)),
			})
		}
	}
}
