package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
)

// wireEvent is the frame clients receive on the event stream:
// {"type": "...", "properties": {...}}
type wireEvent struct {
	Type       event.EventType `json:"type"`
	Properties any             `json:"properties"`
}

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second

	// sseClientBuffer bounds the per-client event queue. A client that
	// stops draining loses events rather than backpressuring the
	// orchestrator; agent chunks must keep flowing for everyone else.
	sseClientBuffer = 64
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	// Use ResponseController for more reliable flushing (Go 1.20+)
	rc := http.NewResponseController(w)

	// Try to get flusher interface as well
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE frame.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// Write SSE format: event type, data, and blank line
	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	// Flush immediately using ResponseController (more reliable than
	// the Flusher interface through middleware wrappers)
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// events handles GET /event: the SSE stream of all orchestrator events.
// With ?session={id}, only events belonging to that session are sent.
func (srv *Server) events(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Explicitly write status and flush headers immediately so the
	// client sees the stream is live before the first event arrives
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	events := make(chan event.Event, sseClientBuffer)
	var dropped atomic.Int64

	// Subscribe before the connected frame goes out: a client that has
	// seen server.connected misses nothing published after it.
	unsub := event.SubscribeAll(func(e event.Event) {
		if sessionID != "" && !eventBelongsToSession(e, sessionID) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Int64("dropped", dropped.Add(1)).
				Msg("SSE event dropped: client not draining")
		}
	})
	defer unsub()

	connected := wireEvent{
		Type:       "server.connected",
		Properties: map[string]any{},
	}
	if err := sse.writeEvent("message", connected); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			data := wireEvent{
				Type:       e.Type,
				Properties: e.Data,
			}
			if err := sse.writeEvent("message", data); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// eventBelongsToSession reports whether an event is specific to the
// given session. Global events (list changes, task feed) do not pass a
// session filter.
func eventBelongsToSession(e event.Event, sessionID string) bool {
	switch data := e.Data.(type) {
	case event.SessionCreatedData:
		return data.Info.ID == sessionID
	case event.SessionUpdatedData:
		return data.Info.ID == sessionID
	case event.SessionTerminatedData:
		return data.SessionID == sessionID
	case event.SessionStatusData:
		return data.SessionID == sessionID
	case event.ActiveChangedData:
		return data.SessionID == sessionID
	case event.QueueChangedData:
		return data.SessionID == sessionID
	case event.AgentChunkData:
		return data.Chunk.SessionID == sessionID
	case event.AgentStderrData:
		return data.Line.SessionID == sessionID
	}
	return false
}
