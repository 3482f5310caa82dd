package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsPingInterval = 30 * time.Second

// wsMessage is the frame sent to WebSocket subscribers
type wsMessage struct {
	Event    interface{} `json:"event,omitempty"`
	Degraded *uint64     `json:"dropped_events,omitempty"`
}

// wsHandler streams events over a WebSocket connection with the same
// filter and replay semantics as the SSE endpoint.
func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := s.hub.Subscribe(streamFilter(r))
		defer s.hub.Unsubscribe(sub)

		// Drain client frames so pong handling and close frames work.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		var reportedDrops uint64
		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case <-ping.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := conn.WriteJSON(wsMessage{Event: event}); err != nil {
					return
				}
				if dropped := sub.Dropped(); dropped > reportedDrops {
					reportedDrops = dropped
					if err := conn.WriteJSON(wsMessage{Degraded: &dropped}); err != nil {
						return
					}
				}
			}
		}
	}
}
