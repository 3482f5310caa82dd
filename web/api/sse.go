package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hochfrequenz/selfheal/internal/broadcast"
)

// streamFilter builds a broadcast filter from the request's query
// parameters (?session=..., ?category=...)
func streamFilter(r *http.Request) broadcast.Filter {
	return broadcast.Filter{
		SessionID: r.URL.Query().Get("session"),
		Category:  r.URL.Query().Get("category"),
	}
}

// sseHandler streams events as server-sent events. A reconnecting client
// first receives the replay of recent history for its filter. When the
// client falls behind and events are dropped, a "degraded" event carries
// the running dropped-events counter.
func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		sub := s.hub.Subscribe(streamFilter(r))
		defer s.hub.Unsubscribe(sub)

		var reportedDrops uint64
		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				data, _ := json.Marshal(event)
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)

				if dropped := sub.Dropped(); dropped > reportedDrops {
					reportedDrops = dropped
					fmt.Fprintf(w, "event: degraded\n")
					fmt.Fprintf(w, "data: {\"dropped_events\": %d}\n\n", dropped)
				}
				flusher.Flush()
			}
		}
	}
}
