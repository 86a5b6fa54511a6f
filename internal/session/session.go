package session

import (
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/proc"
	"github.com/grant-traynor/bp6-sub001/internal/sessionlog"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Errors returned by Service operations.
var (
	// ErrSessionNotFound is returned when the session ID is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when an operation needs the process slot
	// but a turn is already in flight.
	ErrSessionBusy = errors.New("session is busy")

	// ErrAlreadyInteractive is returned when a headless-only operation is
	// attempted on a session that has been handed over.
	ErrAlreadyInteractive = errors.New("session is already interactive")

	// ErrClosed is returned once the service has been shut down.
	ErrClosed = errors.New("session service is shut down")
)

// errTerminated signals that a session was removed while a spawn was in
// flight. Mapped to ErrSessionNotFound at the API surface.
var errTerminated = errors.New("session terminated")

// sessionState is the registry-owned runtime record for one session. All
// mutable fields are guarded by the Service mutex; callbacks copy what
// they need under the lock and do their I/O outside it.
type sessionState struct {
	id      string
	taskRef string
	persona string
	backend string

	plugin backend.Plugin

	// token identifies the backend-side conversation. Empty for backends
	// that cannot pre-assign one; those resume by recency.
	token string

	status      types.SessionStatus
	interactive bool

	// handle is the live process slot. At most one of handle/spawning is
	// meaningfully set: spawning claims the slot while a spawn is in
	// flight so concurrent senders are rejected before the fork happens.
	handle   *proc.Handle
	spawning bool

	// startPrefix is the rendered persona template, consumed by the
	// first turn of a fresh conversation.
	startPrefix string

	// resumed is set once the token has backend-side history, either
	// adopted from the resume index or after the first completed turn.
	resumed bool

	queue      []string
	turnsDone  int
	turnsTotal int

	messageCount int
	hasUnread    bool
	doneSeen     bool

	created      int64
	lastActivity int64

	logger *sessionlog.Logger
	dedupe *dedupeState
}

// turn identifies one spawned process so the exit callback can tell
// which invocation it belongs to. installed is closed once the handle
// has been stored in the registry; the exit path waits on it so a
// process that dies instantly cannot race the bookkeeping.
type turn struct {
	installed chan struct{}
	queued    bool
}

func newTurn(queued bool) *turn {
	return &turn{installed: make(chan struct{}), queued: queued}
}

// snapshotLocked copies the externally visible view. Caller holds the
// Service mutex.
func (st *sessionState) snapshotLocked() types.Session {
	return types.Session{
		ID:           st.id,
		TaskRef:      st.taskRef,
		Persona:      st.persona,
		Backend:      st.backend,
		Status:       st.status,
		Interactive:  st.interactive,
		MessageCount: st.messageCount,
		HasUnread:    st.hasUnread,
		QueuedTurns:  len(st.queue),
		TurnsDone:    st.turnsDone,
		TurnsTotal:   st.turnsTotal,
		Time: types.SessionTime{
			Created:      st.created,
			LastActivity: st.lastActivity,
		},
	}
}

// busyLocked reports whether the process slot is occupied or claimed.
func (st *sessionState) busyLocked() bool {
	return st.handle != nil || st.spawning
}

// takePrefixLocked returns the persona prefix exactly once.
func (st *sessionState) takePrefixLocked() string {
	p := st.startPrefix
	st.startPrefix = ""
	return p
}

// turnMode picks the invocation mode for the next ephemeral turn.
func (st *sessionState) turnMode() backend.Mode {
	if st.resumed || st.messageCount > 0 {
		return backend.ModeHeadlessResume
	}
	return backend.ModeHeadless
}

// duplexMode picks the invocation mode for a persistent process.
func (st *sessionState) duplexMode() backend.Mode {
	if st.resumed || st.messageCount > 0 {
		return backend.ModeInteractiveResume
	}
	return backend.ModeInteractiveFresh
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}
