// Package realtime fans mutation events out to every client currently
// viewing a clinical record. Delivery is best-effort and at-most-once:
// the persisted record is the source of truth and a client that misses
// an event reconciles by re-fetching. The connection that caused a
// change never receives its own echo.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is the section-scoped update delivered to viewers of a record.
// Receivers use Section to decide which part of their view to refresh.
type Event struct {
	Type      string          `json:"type"`
	RecordID  string          `json:"recordId"`
	Section   string          `json:"section"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session represents one live viewer connection to one record.
type Session struct {
	ID       string
	RecordID string
	Send     chan []byte
	conn     Conn
}

// Hub is the connection registry: record id -> set of live sessions.
// All operations are safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	records map[string]map[*Session]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		records: make(map[string]map[*Session]struct{}),
		logger:  logger,
	}
}

// Register adds a session to its record's subscriber set.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.records[s.RecordID] == nil {
		h.records[s.RecordID] = make(map[*Session]struct{})
	}
	h.records[s.RecordID][s] = struct{}{}
}

// Unregister removes a session and closes its send channel. Calling it
// twice for the same session is harmless.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.records[s.RecordID]
	if !ok {
		return
	}
	if _, ok := subscribers[s]; !ok {
		return
	}

	delete(subscribers, s)
	if len(subscribers) == 0 {
		delete(h.records, s.RecordID)
	}
	close(s.Send)
}

// Deliver sends an event to every session subscribed to the record except
// the one whose id equals originSessionID. A session whose buffer is full
// is skipped rather than blocking the others; it will reconcile from the
// persisted record.
func (h *Hub) Deliver(event Event, originSessionID string) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("realtime: marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.records[event.RecordID] {
		if s.ID == originSessionID {
			continue
		}
		select {
		case s.Send <- data:
		default:
			h.logger.Warn().
				Str("record_id", event.RecordID).
				Str("session_id", s.ID).
				Msg("realtime: session buffer full, dropping event")
		}
	}
}

// SessionCount returns the number of live sessions for a record.
func (h *Hub) SessionCount(recordID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records[recordID])
}
