// Package broadcast fans session events out to live observers. Each
// session has a single publishing producer, so subscribers see that
// session's events in publish order; across sessions there is no ordering
// guarantee. A slow subscriber never blocks publication: its bounded
// queue drops the oldest event on overflow and the subscriber is marked
// degraded with a visible dropped-events counter.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the engine
const (
	EventSessionCreated   = "session.created"
	EventSessionStatus    = "session.status"
	EventSessionExpired   = "session.expired"
	EventErrorDetected    = "error.detected"
	EventAnalysisComplete = "error.analysis-complete"
	EventPatchGenerated   = "patch.generated"
	EventPatchApplied     = "patch.applied"
	EventPatchRejected    = "patch.rejected"
	EventPatchFailed      = "patch.failed"
	EventPatchRolledBack  = "patch.rolled-back"
)

// Event is one broadcast message
type Event struct {
	Seq       uint64      `json:"seq"`
	SessionID string      `json:"session_id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Category returns the event's coarse category (sessions, errors, patches)
func (e Event) Category() string {
	prefix, _, _ := strings.Cut(e.Type, ".")
	switch prefix {
	case "session":
		return "sessions"
	case "error":
		return "errors"
	case "patch":
		return "patches"
	}
	return prefix
}

// Filter restricts a subscription by session id and/or category.
// Zero values match everything.
type Filter struct {
	SessionID string
	Category  string
}

func (f Filter) matches(e Event) bool {
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if f.Category != "" && f.Category != e.Category() {
		return false
	}
	return true
}

// Subscriber is one observer's bounded event queue
type Subscriber struct {
	filter  Filter
	mu      sync.Mutex
	queue   chan Event
	closed  bool
	dropped atomic.Uint64
}

// Events returns the subscriber's receive channel. It is closed on
// Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.queue
}

// Dropped returns how many events were discarded because this subscriber
// fell behind. Non-zero means the subscriber is degraded.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Degraded reports whether this subscriber has lost events
func (s *Subscriber) Degraded() bool {
	return s.dropped.Load() > 0
}

// offer enqueues without ever blocking; on overflow the oldest queued
// event is dropped.
func (s *Subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.queue <- e:
			return
		default:
			select {
			case <-s.queue:
				s.dropped.Add(1)
			default:
			}
		}
	}
}

// TimelineSink persists published events; the session store implements it
type TimelineSink interface {
	AppendEvent(sessionID, eventType string, payload []byte) error
}

// Hub is the engine's event broadcaster
type Hub struct {
	ringSize  int
	queueSize int
	sink      TimelineSink // optional

	mu    sync.RWMutex
	subs  map[*Subscriber]struct{}
	rings map[string]*ring
	seq   uint64
}

// NewHub creates a Hub. ringSize bounds the per-session replay buffer,
// queueSize bounds each subscriber's queue. sink may be nil.
func NewHub(ringSize, queueSize int, sink TimelineSink) *Hub {
	if ringSize <= 0 {
		ringSize = 64
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		ringSize:  ringSize,
		queueSize: queueSize,
		sink:      sink,
		subs:      make(map[*Subscriber]struct{}),
		rings:     make(map[string]*ring),
	}
}

// Publish broadcasts an event to all matching subscribers, records it in
// the session's replay ring, and appends it to the persistent timeline.
// Publish never blocks on slow subscribers.
func (h *Hub) Publish(sessionID, eventType string, payload interface{}) {
	h.mu.Lock()
	h.seq++
	event := Event{
		Seq:       h.seq,
		SessionID: sessionID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	r, ok := h.rings[sessionID]
	if !ok {
		r = newRing(h.ringSize)
		h.rings[sessionID] = r
	}
	r.push(event)

	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		if sub.filter.matches(event) {
			subs = append(subs, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.offer(event)
	}

	if h.sink != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			data = nil
		}
		if err := h.sink.AppendEvent(sessionID, eventType, data); err != nil {
			slog.Warn("timeline append failed", "session", sessionID, "type", eventType, "error", err)
		}
	}
}

// Subscribe registers an observer. Recent history matching the filter is
// replayed from the ring buffers before live events arrive.
func (h *Hub) Subscribe(filter Filter) *Subscriber {
	sub := &Subscriber{
		filter: filter,
		queue:  make(chan Event, h.queueSize),
	}

	h.mu.Lock()
	var history []Event
	if filter.SessionID != "" {
		if r, ok := h.rings[filter.SessionID]; ok {
			history = r.snapshot()
		}
	} else {
		for _, r := range h.rings {
			history = append(history, r.snapshot()...)
		}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	sortBySeq(history)
	for _, e := range history {
		if sub.filter.matches(e) {
			sub.offer(e)
		}
	}
	return sub
}

// Unsubscribe removes an observer and closes its channel
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.queue)
	}
	sub.mu.Unlock()
}

// DropSession discards a session's replay ring (used when a session is
// archived)
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	delete(h.rings, sessionID)
	h.mu.Unlock()
}

// ring is a fixed-capacity event buffer keeping the most recent entries
type ring struct {
	buf   []Event
	next  int
	count int
}

func newRing(size int) *ring {
	return &ring{buf: make([]Event, size)}
}

func (r *ring) push(e Event) {
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns the buffered events oldest-first
func (r *ring) snapshot() []Event {
	out := make([]Event, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func sortBySeq(events []Event) {
	// insertion sort; replay sets are small (bounded by ring sizes)
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Seq < events[j-1].Seq; j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}
