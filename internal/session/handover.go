package session

import (
	"context"

	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Handover switches a session from headless to interactive operation.
// The transition is one way: any pending queued turns are discarded,
// completed-turn counters are frozen, and every later prompt goes to a
// persistent duplex process instead of a per-turn one.
//
// A turn already in flight finishes normally; it is the queue behind it
// that is dropped. Calling Handover on an interactive session returns
// ErrAlreadyInteractive, so the queue can only be discarded once.
func (s *Service) Handover(ctx context.Context, sessionID string) (types.Session, error) {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return types.Session{}, ErrSessionNotFound
	}
	if st.interactive {
		s.mu.Unlock()
		return types.Session{}, ErrAlreadyInteractive
	}
	discarded := len(st.queue)
	st.queue = nil
	st.interactive = true
	snap := st.snapshotLocked()
	counts := queueCounts{pending: 0, done: st.turnsDone, total: st.turnsTotal}
	s.mu.Unlock()

	logging.Info().
		Str("session", sessionID).
		Int("discardedTurns", discarded).
		Msg("session handed over to interactive mode")

	if discarded > 0 {
		s.publishQueue(sessionID, counts.pending, counts.done, counts.total)
	}
	event.PublishSync(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: snap}})
	return snap, nil
}
