package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// QueueHaltPrefix prefixes the diagnostic stderr line published when a
// session's queued turns stop after exhausting spawn retries. Headless
// consumers key on it to tell a halt apart from the gap between turns.
const QueueHaltPrefix = "queue halted: "

// Enqueue appends prompts to a session's headless queue. Execution
// begins as soon as the process slot is free; turns run strictly in
// order, one process per turn.
func (s *Service) Enqueue(ctx context.Context, sessionID string, prompts []string) (types.Session, error) {
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
	st.queue = append(st.queue, prompts...)
	st.turnsTotal += len(prompts)
	counts := queueCounts{pending: len(st.queue), done: st.turnsDone, total: st.turnsTotal}
	snap := st.snapshotLocked()
	s.mu.Unlock()

	s.publishQueue(sessionID, counts.pending, counts.done, counts.total)
	s.kickQueue(st)
	return snap, nil
}

// kickQueue starts the next queued turn when the session is idle and
// headless. Safe to call at any time; it claims the process slot before
// releasing the lock so concurrent senders see the session as busy.
func (s *Service) kickQueue(st *sessionState) {
	s.mu.Lock()
	if st.interactive || st.busyLocked() || st.status.Terminal() || len(st.queue) == 0 {
		s.mu.Unlock()
		return
	}
	st.spawning = true
	st.status = types.StatusHeadless
	prompt := st.queue[0]
	st.queue = st.queue[1:]
	prefix := st.takePrefixLocked()
	mode := st.turnMode()
	counts := queueCounts{pending: len(st.queue), done: st.turnsDone, total: st.turnsTotal}
	s.mu.Unlock()

	s.publishStatus(st.id, types.StatusHeadless)
	s.publishQueue(st.id, counts.pending, counts.done, counts.total)
	go s.runQueuedTurn(st, prompt, prefix, mode)
}

// runQueuedTurn spawns one queued turn, retrying transient spawn
// failures with exponential backoff. On exhaustion the queue halts with
// the failed prompt returned to the front; the next Enqueue or a
// completed manual turn resumes it.
func (s *Service) runQueuedTurn(st *sessionState, prompt, prefix string, mode backend.Mode) {
	st.logger.Message(prompt)
	full := composePrompt(prefix, prompt)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		s.mu.Lock()
		gone := st.status.Terminal()
		s.mu.Unlock()
		if gone {
			return backoff.Permanent(errTerminated)
		}
		return s.spawnTurn(st, full, mode, newTurn(true))
	}, backoff.WithMaxRetries(bo, uint64(s.knobs().QueueRetries)))
	if err == nil {
		return
	}

	s.mu.Lock()
	st.spawning = false
	if errors.Is(err, errTerminated) || st.status.Terminal() {
		s.mu.Unlock()
		return
	}
	// Halt: keep the failed prompt and everything behind it.
	st.queue = append([]string{prompt}, st.queue...)
	if prefix != "" && st.startPrefix == "" {
		st.startPrefix = prefix
	}
	st.status = types.StatusIdle
	counts := queueCounts{pending: len(st.queue), done: st.turnsDone, total: st.turnsTotal}
	s.mu.Unlock()

	logging.Error().Str("session", st.id).Err(err).Msg("queued turn spawn failed, queue halted")
	s.publishStatus(st.id, types.StatusIdle)
	s.publishQueue(st.id, counts.pending, counts.done, counts.total)
	event.PublishSync(event.Event{Type: event.AgentStderr, Data: event.AgentStderrData{Line: types.StderrLine{
		SessionID: st.id,
		Line:      QueueHaltPrefix + err.Error(),
	}}})
}
