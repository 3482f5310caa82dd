package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/sessionstore"
)

// SessionResponse is the API representation of a debug session
type SessionResponse struct {
	ID         string          `json:"id"`
	PipelineID string          `json:"pipeline_id"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	ExpiresAt  string          `json:"expires_at"`
	Errors     []ErrorResponse `json:"errors,omitempty"`
	Patches    []PatchResponse `json:"patches,omitempty"`
}

// ErrorResponse is the API representation of a classified error
type ErrorResponse struct {
	ID          string  `json:"id"`
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Message     string  `json:"message"`
	Location    string  `json:"location,omitempty"`
	Confidence  float64 `json:"confidence"`
	AutoFixable bool    `json:"auto_fixable"`
	Source      string  `json:"source"`
}

// PatchResponse is the API representation of a patch candidate
type PatchResponse struct {
	ID          string  `json:"id"`
	ErrorID     string  `json:"error_id"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Reversible  bool    `json:"reversible"`
	Applied     bool    `json:"applied"`
	Success     *bool   `json:"success,omitempty"`
	AppliedAt   *string `json:"applied_at,omitempty"`
	Rejected    string  `json:"rejected,omitempty"`
}

// PatternResponse describes one library matcher
type PatternResponse struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	AutoFixable bool   `json:"auto_fixable"`
	Regex       string `json:"regex"`
}

// StatusResponse is the API response for overall engine status
type StatusResponse struct {
	Total            int `json:"total"`
	Analyzing        int `json:"analyzing"`
	AwaitingApproval int `json:"awaiting_approval"`
	Patching         int `json:"patching"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Cancelled        int `json:"cancelled"`
}

// CreateSessionRequest is the POST /api/sessions body
type CreateSessionRequest struct {
	PipelineID string `json:"pipeline_id"`
	RawLog     string `json:"raw_log,omitempty"`
}

// ApproveRequest is the POST /api/sessions/{id}/approve body. An empty
// patch id list approves every pending patch.
type ApproveRequest struct {
	PatchIDs []string `json:"patch_ids,omitempty"`
}

func sessionToResponse(sess *domain.DebugSession) SessionResponse {
	resp := SessionResponse{
		ID:         sess.ID,
		PipelineID: sess.PipelineID,
		Status:     string(sess.Status),
		CreatedAt:  sess.CreatedAt.Format(time.RFC3339),
		ExpiresAt:  sess.ExpiresAt.Format(time.RFC3339),
	}
	for _, e := range sess.Errors {
		er := ErrorResponse{
			ID:          e.ID,
			Category:    string(e.Category),
			Severity:    string(e.Severity),
			Message:     e.Message,
			Confidence:  e.Confidence,
			AutoFixable: e.AutoFixable,
			Source:      string(e.Source),
		}
		if e.Location != nil {
			er.Location = e.Location.String()
		}
		resp.Errors = append(resp.Errors, er)
	}
	for _, p := range sess.Patches {
		pr := PatchResponse{
			ID:          p.ID,
			ErrorID:     p.ErrorID,
			Type:        string(p.Type),
			Description: p.Description,
			Confidence:  p.Confidence,
			Reversible:  p.IsReversible,
			Applied:     p.Applied,
			Success:     p.Success,
		}
		if p.AppliedAt != nil {
			t := p.AppliedAt.Format(time.RFC3339)
			pr.AppliedAt = &t
		}
		if p.Rejected != nil {
			pr.Rejected = string(*p.Rejected)
		}
		resp.Patches = append(resp.Patches, pr)
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		sessions, err := s.store.ListSessions(sessionstore.ListOptions{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		status.Total = len(sessions)
		for _, sess := range sessions {
			switch sess.Status {
			case domain.StatusAnalyzing:
				status.Analyzing++
			case domain.StatusAwaitingApproval:
				status.AwaitingApproval++
			case domain.StatusPatching, domain.StatusVerifying:
				status.Patching++
			case domain.StatusCompleted:
				status.Completed++
			case domain.StatusFailed:
				status.Failed++
			case domain.StatusCancelled:
				status.Cancelled++
			}
		}

		writeJSON(w, status)
	}
}

// sessionsHandler serves the /api/sessions collection
func (s *Server) sessionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			opts := sessionstore.ListOptions{
				PipelineID: r.URL.Query().Get("pipeline"),
				Status:     domain.SessionStatus(r.URL.Query().Get("status")),
			}
			sessions, err := s.orch.ListSessions(opts)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			responses := make([]SessionResponse, len(sessions))
			for i, sess := range sessions {
				responses[i] = sessionToResponse(sess)
			}
			writeJSON(w, responses)

		case http.MethodPost:
			var req CreateSessionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if req.PipelineID == "" {
				writeError(w, http.StatusBadRequest, "pipeline_id required")
				return
			}

			sess, err := s.orch.CreateSession(r.Context(), req.PipelineID, req.RawLog)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}

			// Analysis outlives the request.
			go func() {
				if err := s.orch.RunSession(context.Background(), sess.ID); err != nil {
					slog.Error("session run", "session", sess.ID, "error", err)
				}
			}()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(sessionToResponse(sess))

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

// sessionHandler serves /api/sessions/{id} and its sub-resources
func (s *Server) sessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
		parts := strings.Split(strings.Trim(path, "/"), "/")
		if len(parts) == 0 || parts[0] == "" {
			writeError(w, http.StatusBadRequest, "session ID required")
			return
		}
		id := parts[0]

		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			s.getSession(w, id)
		case len(parts) == 2 && parts[1] == "timeline" && r.Method == http.MethodGet:
			s.getTimeline(w, id)
		case len(parts) == 2 && parts[1] == "approve" && r.Method == http.MethodPost:
			s.approveSession(w, r, id)
		case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
			s.cancelSession(w, id)
		case len(parts) == 4 && parts[1] == "patches" && parts[3] == "rollback" && r.Method == http.MethodPost:
			s.rollbackPatch(w, id, parts[2])
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getSession(w http.ResponseWriter, id string) {
	sess, err := s.orch.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, sessionToResponse(sess))
}

func (s *Server) getTimeline(w http.ResponseWriter, id string) {
	events, err := s.store.ListTimeline(id, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, events)
}

func (s *Server) approveSession(w http.ResponseWriter, r *http.Request, id string) {
	var req ApproveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if err := s.orch.Approve(r.Context(), id, req.PatchIDs); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.getSession(w, id)
}

func (s *Server) cancelSession(w http.ResponseWriter, id string) {
	if err := s.orch.CancelSession(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.getSession(w, id)
}

func (s *Server) rollbackPatch(w http.ResponseWriter, sessionID, patchID string) {
	op, err := s.orch.RollbackPatch(sessionID, patchID)
	if err != nil {
		if op == nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, op)
}

func (s *Server) listPatternsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		all := s.orch.Patterns().All()
		responses := make([]PatternResponse, len(all))
		for i, p := range all {
			responses[i] = PatternResponse{
				Name:        p.Name,
				Category:    string(p.Category),
				Severity:    string(p.Severity),
				AutoFixable: p.AutoFixable,
				Regex:       p.Regex(),
			}
		}
		writeJSON(w, responses)
	}
}
