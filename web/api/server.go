// Package api exposes the debug engine over HTTP: session lifecycle
// operations plus SSE and WebSocket event streams.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/orchestrator"
	"github.com/hochfrequenz/selfheal/internal/sessionstore"
)

// Server is the HTTP API server
type Server struct {
	orch  *orchestrator.Orchestrator
	store *sessionstore.Store
	hub   *broadcast.Hub
	addr  string
	mux   *http.ServeMux
}

// NewServer creates a new API server
func NewServer(orch *orchestrator.Orchestrator, store *sessionstore.Store, hub *broadcast.Hub, addr string) *Server {
	s := &Server{
		orch:  orch,
		store: store,
		hub:   hub,
		addr:  addr,
		mux:   http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/sessions", s.sessionsHandler())
	s.mux.HandleFunc("/api/sessions/", s.sessionHandler())
	s.mux.HandleFunc("/api/patterns", s.listPatternsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler returns the server's routing handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
