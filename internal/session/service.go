package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/proc"
	"github.com/grant-traynor/bp6-sub001/internal/sessionlog"
	"github.com/grant-traynor/bp6-sub001/internal/storage"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Service is the session registry and the entry point for every session
// operation. One Service supervises all sessions in a process.
//
// The mutex guards only in-memory registry state. Process spawning,
// signalling, template rendering and log writes all happen outside it,
// so a wedged backend CLI can never stall unrelated sessions.
type Service struct {
	cfg      *types.Config
	backends *backend.Registry
	personas *persona.Registry
	index    *Index
	logRoot  string

	mu       sync.Mutex
	sessions map[string]*sessionState
	active   string
	closed   bool
}

// CreateOptions parameterizes Create. Zero values fall back to the
// configured defaults.
type CreateOptions struct {
	// TaskRef links the session to an external task. Empty means
	// untracked.
	TaskRef string

	// Persona selects the prompt template set.
	Persona string

	// Backend selects the agent CLI kind.
	Backend string

	// InitialPrompt, when set, triggers the first turn before Create
	// returns. A spawn failure rejects the creation.
	InitialPrompt string

	// QueuedTurns seeds the headless queue. Execution starts as soon as
	// the session is idle.
	QueuedTurns []string
}

// NewService creates a session service. The store backs the resume
// index; logRoot is the directory session transcripts are written
// under.
func NewService(cfg *types.Config, backends *backend.Registry, personas *persona.Registry, store *storage.Storage, logRoot string) *Service {
	return &Service{
		cfg:      cfg,
		backends: backends,
		personas: personas,
		index:    NewIndex(store),
		logRoot:  logRoot,
		sessions: make(map[string]*sessionState),
	}
}

// knobs returns the session behavior settings with defaults applied,
// tolerating partially built configs.
func (s *Service) knobs() types.SessionConfig {
	k := types.SessionConfig{QueueRetries: 3, TermGraceMS: 200}
	if s.cfg == nil || s.cfg.Session == nil {
		return k
	}
	if s.cfg.Session.DedupeWindow > 0 {
		k.DedupeWindow = s.cfg.Session.DedupeWindow
	}
	if s.cfg.Session.QueueRetries > 0 {
		k.QueueRetries = s.cfg.Session.QueueRetries
	}
	if s.cfg.Session.TermGraceMS > 0 {
		k.TermGraceMS = s.cfg.Session.TermGraceMS
	}
	return k
}

// Create registers a new session. When the task/persona pair has a live
// resume index entry for the same backend, the prior conversation token
// is adopted and the backend continues where it left off.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (types.Session, error) {
	backendID := opts.Backend
	if backendID == "" {
		backendID = s.defaultBackend()
	}
	plugin, err := s.backends.Get(backendID)
	if err != nil {
		return types.Session{}, err
	}

	personaID := opts.Persona
	if personaID == "" {
		personaID = s.defaultPersona()
	}
	pers, err := s.personas.Get(personaID)
	if err != nil {
		return types.Session{}, err
	}

	token := ""
	resumed := false
	if ent, ok := s.index.Lookup(ctx, opts.TaskRef, personaID); ok && ent.Backend == backendID {
		if plugin.CheckToken(ent.Token) == nil {
			token = ent.Token
			resumed = true
		}
	}
	if !resumed {
		token = plugin.NewToken()
	}

	now := time.Now().UnixMilli()
	st := &sessionState{
		id:      generateID(),
		taskRef: opts.TaskRef,
		persona: personaID,
		backend: backendID,
		plugin:  plugin,
		token:   token,
		status:  types.StatusInitializing,
		// Claim the slot up front so a Send racing the initial turn is
		// rejected as busy instead of double-spawning.
		spawning:     opts.InitialPrompt != "",
		resumed:      resumed,
		queue:        append([]string(nil), opts.QueuedTurns...),
		turnsTotal:   len(opts.QueuedTurns),
		created:      now,
		lastActivity: now,
		dedupe:       newDedupe(s.knobs().DedupeWindow),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Session{}, ErrClosed
	}
	s.sessions[st.id] = st
	snap := st.snapshotLocked()
	list := s.listLocked()
	s.mu.Unlock()

	logging.Info().
		Str("session", st.id).
		Str("backend", backendID).
		Str("persona", personaID).
		Str("taskRef", opts.TaskRef).
		Bool("resumed", resumed).
		Msg("session created")

	// Transcript logging is best effort: a failed open downgrades to a
	// nil logger whose methods are no-ops.
	slog, err := sessionlog.Open(s.logRoot, snap)
	if err != nil {
		logging.Warn().Str("session", st.id).Err(err).Msg("session log unavailable")
	}

	startContent, err := pers.Render(persona.Context{TaskRef: opts.TaskRef}, "")
	if err != nil {
		logging.Warn().Str("session", st.id).Err(err).Msg("persona template render failed")
		startContent = ""
	}

	s.mu.Lock()
	st.logger = slog
	if !resumed {
		st.startPrefix = startContent
	}
	s.mu.Unlock()

	slog.Start(startContent)

	event.PublishSync(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{Info: snap}})
	event.PublishSync(event.Event{Type: event.SessionListChanged, Data: event.SessionListChangedData{Sessions: list}})
	if len(opts.QueuedTurns) > 0 {
		s.publishQueue(st.id, len(opts.QueuedTurns), 0, len(opts.QueuedTurns))
	}

	if opts.InitialPrompt != "" {
		if err := s.firstTurn(st, opts.InitialPrompt); err != nil {
			s.rollbackCreate(st)
			return types.Session{}, err
		}
	} else {
		s.mu.Lock()
		st.status = types.StatusIdle
		s.mu.Unlock()
		s.publishStatus(st.id, types.StatusIdle)
		s.kickQueue(st)
	}

	if err := s.index.Record(ctx, opts.TaskRef, personaID, Entry{
		SessionID:  st.id,
		Token:      token,
		Backend:    backendID,
		LastActive: now,
	}); err != nil {
		logging.Warn().Str("session", st.id).Err(err).Msg("resume index write failed")
	}

	s.mu.Lock()
	snap = st.snapshotLocked()
	s.mu.Unlock()
	return snap, nil
}

// firstTurn runs the creation-time turn synchronously so a spawn
// failure can reject the creation. The slot claim was taken when the
// session was constructed.
func (s *Service) firstTurn(st *sessionState, prompt string) error {
	s.mu.Lock()
	mode := st.turnMode()
	full := composePrompt(st.takePrefixLocked(), prompt)
	s.mu.Unlock()

	st.logger.Message(prompt)
	if err := s.spawnTurn(st, full, mode, newTurn(false)); err != nil {
		s.mu.Lock()
		st.spawning = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// rollbackCreate removes a session whose initial spawn failed.
func (s *Service) rollbackCreate(st *sessionState) {
	s.mu.Lock()
	st.status = types.StatusTerminated
	delete(s.sessions, st.id)
	list := s.listLocked()
	s.mu.Unlock()

	st.logger.Close()
	event.PublishSync(event.Event{Type: event.SessionTerminated, Data: event.SessionTerminatedData{SessionID: st.id}})
	event.PublishSync(event.Event{Type: event.SessionListChanged, Data: event.SessionListChangedData{Sessions: list}})
}

// Get returns the current snapshot of one session.
func (s *Service) Get(ctx context.Context, sessionID string) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return types.Session{}, ErrSessionNotFound
	}
	return st.snapshotLocked(), nil
}

// List returns snapshots of all registered sessions in creation order.
func (s *Service) List(ctx context.Context) []types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Service) listLocked() []types.Session {
	out := make([]types.Session, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.snapshotLocked())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Created != out[j].Time.Created {
			return out[i].Time.Created < out[j].Time.Created
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetActive marks one session as the operator's focus and clears its
// unread flag. An empty ID clears the focus.
func (s *Service) SetActive(ctx context.Context, sessionID string) error {
	var updated *types.Session
	s.mu.Lock()
	if sessionID != "" {
		st, ok := s.sessions[sessionID]
		if !ok {
			s.mu.Unlock()
			return ErrSessionNotFound
		}
		if st.hasUnread {
			st.hasUnread = false
			snap := st.snapshotLocked()
			updated = &snap
		}
	}
	s.active = sessionID
	s.mu.Unlock()

	event.PublishSync(event.Event{Type: event.ActiveChanged, Data: event.ActiveChangedData{SessionID: sessionID}})
	if updated != nil {
		event.PublishSync(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: *updated}})
	}
	return nil
}

// Active returns the currently focused session ID, empty for none.
func (s *Service) Active(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Send delivers a prompt to a session. Headless sessions spawn one
// ephemeral process per prompt; interactive sessions reuse their
// persistent process, spawning it on first use.
func (s *Service) Send(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}

	// Live duplex process: write straight to its stdin.
	if st.interactive && st.handle != nil {
		h := st.handle
		payload := st.plugin.EncodeInput(text)
		st.messageCount++
		st.doneSeen = false
		st.status = types.StatusRunning
		st.lastActivity = time.Now().UnixMilli()
		s.mu.Unlock()

		st.logger.Message(text)
		s.publishStatus(sessionID, types.StatusRunning)
		if err := h.Write(payload); err != nil {
			return fmt.Errorf("deliver prompt: %w", err)
		}
		return nil
	}

	if st.busyLocked() {
		s.mu.Unlock()
		return ErrSessionBusy
	}

	st.spawning = true
	interactive := st.interactive
	var mode backend.Mode
	if interactive {
		mode = st.duplexMode()
	} else {
		mode = st.turnMode()
	}
	full := composePrompt(st.takePrefixLocked(), text)
	s.mu.Unlock()

	st.logger.Message(text)
	if err := s.spawnTurn(st, full, mode, newTurn(false)); err != nil {
		s.mu.Lock()
		st.spawning = false
		s.mu.Unlock()
		if errors.Is(err, errTerminated) {
			return ErrSessionNotFound
		}
		return err
	}

	// A fresh duplex process takes its prompt over stdin.
	if interactive {
		s.mu.Lock()
		h := st.handle
		payload := st.plugin.EncodeInput(full)
		s.mu.Unlock()
		if h != nil {
			if err := h.Write(payload); err != nil {
				return fmt.Errorf("deliver prompt: %w", err)
			}
		}
	}
	return nil
}

// Interrupt sends SIGINT to the session's process group. Interrupting a
// session with no live process is a no-op.
func (s *Service) Interrupt(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	h := st.handle
	if h == nil || !h.IsAlive() {
		s.mu.Unlock()
		return nil
	}
	st.status = types.StatusInterrupted
	st.lastActivity = time.Now().UnixMilli()
	s.mu.Unlock()

	logging.Info().Str("session", sessionID).Msg("interrupting session")
	s.publishStatus(sessionID, types.StatusInterrupted)
	h.Interrupt()
	return nil
}

// Remove terminates a session's process tree and drops it from the
// registry. After Remove returns no further events carry the session's
// ID.
func (s *Service) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	st, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	st.status = types.StatusTerminated
	delete(s.sessions, sessionID)
	h := st.handle
	st.handle = nil
	activeCleared := s.active == sessionID
	if activeCleared {
		s.active = ""
	}
	list := s.listLocked()
	s.mu.Unlock()

	if h != nil {
		h.Terminate()
		<-h.Done()
	}
	st.logger.End("terminated")
	st.logger.Close()

	logging.Info().Str("session", sessionID).Msg("session terminated")
	event.PublishSync(event.Event{Type: event.SessionTerminated, Data: event.SessionTerminatedData{SessionID: sessionID}})
	event.PublishSync(event.Event{Type: event.SessionListChanged, Data: event.SessionListChangedData{Sessions: list}})
	if activeCleared {
		event.PublishSync(event.Event{Type: event.ActiveChanged, Data: event.ActiveChangedData{SessionID: ""}})
	}
	return nil
}

// Shutdown terminates every session's process tree and closes their
// transcripts. The service accepts no new sessions afterwards.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	states := make([]*sessionState, 0, len(s.sessions))
	for _, st := range s.sessions {
		st.status = types.StatusTerminated
		states = append(states, st)
	}
	s.sessions = make(map[string]*sessionState)
	s.active = ""
	s.mu.Unlock()

	for _, st := range states {
		if st.handle != nil {
			st.handle.Terminate()
			<-st.handle.Done()
		}
		st.logger.End("shutdown")
		st.logger.Close()
		event.PublishSync(event.Event{Type: event.SessionTerminated, Data: event.SessionTerminatedData{SessionID: st.id}})
	}

	logging.Info().Int("sessions", len(states)).Msg("session service shut down")
	return nil
}

// PruneIndex sweeps expired resume index entries. Intended to run once
// at startup.
func (s *Service) PruneIndex(ctx context.Context) {
	n, err := s.index.Prune(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("resume index prune failed")
		return
	}
	if n > 0 {
		logging.Info().Int("removed", n).Msg("pruned resume index")
	}
}

func (s *Service) defaultBackend() string {
	if s.cfg != nil && s.cfg.DefaultBackend != "" {
		return s.cfg.DefaultBackend
	}
	return "claude"
}

func (s *Service) defaultPersona() string {
	if s.cfg != nil && s.cfg.DefaultPersona != "" {
		return s.cfg.DefaultPersona
	}
	return "specialist"
}

// spawnTurn forks the backend process for one invocation. The caller
// must have claimed the slot (spawning set); on success the claim is
// converted into the installed handle, on failure it is left for the
// caller to release, so the queue executor can retry under the same
// claim.
func (s *Service) spawnTurn(st *sessionState, prompt string, mode backend.Mode, t *turn) error {
	spec := s.buildSpec(st, prompt, mode, t)

	logging.Debug().
		Str("session", st.id).
		Str("backend", st.backend).
		Str("mode", mode.String()).
		Msg("spawning backend process")

	h, err := proc.Spawn(spec)
	if err != nil {
		return fmt.Errorf("spawn %s backend: %w", st.backend, err)
	}

	s.mu.Lock()
	if st.status.Terminal() {
		// Removed while the fork was in flight; reap the orphan.
		s.mu.Unlock()
		close(t.installed)
		h.Terminate()
		return errTerminated
	}
	st.handle = h
	st.spawning = false
	st.doneSeen = false
	st.messageCount++
	st.lastActivity = time.Now().UnixMilli()
	st.status = types.StatusRunning
	s.mu.Unlock()
	close(t.installed)

	s.publishStatus(st.id, types.StatusRunning)
	return nil
}

// buildSpec assembles the process spec for one invocation, applying
// per-backend configuration overrides.
func (s *Service) buildSpec(st *sessionState, prompt string, mode backend.Mode, t *turn) proc.Spec {
	command := st.plugin.Command()
	args := st.plugin.BuildArgs(st.token, prompt, mode)

	var bc types.BackendConfig
	if s.cfg != nil && s.cfg.Backend != nil {
		bc = s.cfg.Backend[st.backend]
	}
	if bc.Command != "" {
		command = bc.Command
	}
	args = append(args, bc.ExtraArgs...)

	return proc.Spec{
		Command:      command,
		Args:         args,
		Dir:          bc.WorkDir,
		Env:          bc.Env,
		Stdin:        mode.Interactive(),
		TermGrace:    time.Duration(s.knobs().TermGraceMS) * time.Millisecond,
		OnStdoutLine: func(line []byte) { s.handleLine(st, line) },
		OnStderrLine: func(line string) { s.handleStderr(st, line) },
		OnExit:       func(err error) { s.handleExit(st, t, err) },
	}
}

// handleLine runs on the process's stdout reader goroutine, so chunks
// for one session are published in stream order.
func (s *Service) handleLine(st *sessionState, line []byte) {
	chunk, ok := st.plugin.ParseLine(line)
	if !ok {
		return
	}
	chunk.SessionID = st.id

	s.mu.Lock()
	if st.status.Terminal() {
		s.mu.Unlock()
		return
	}
	st.lastActivity = time.Now().UnixMilli()
	if chunk.Done {
		st.doneSeen = true
	}
	unreadFlipped := false
	if s.active != st.id && !st.hasUnread {
		st.hasUnread = true
		unreadFlipped = true
	}
	emit, suppressed := st.dedupe.observe(chunk)
	var idleSnap *types.Session
	if chunk.Done && st.interactive && st.handle != nil {
		// Persistent process stays alive between turns.
		st.status = types.StatusIdle
		snap := st.snapshotLocked()
		idleSnap = &snap
	}
	var updated *types.Session
	if unreadFlipped {
		snap := st.snapshotLocked()
		updated = &snap
	}
	s.mu.Unlock()

	st.logger.Chunk(chunk)
	if suppressed {
		logging.Debug().Str("session", st.id).Msg("duplicate reply suppressed")
	}
	for _, c := range emit {
		event.PublishSync(event.Event{Type: event.AgentChunk, Data: event.AgentChunkData{Chunk: c}})
	}
	if updated != nil {
		event.PublishSync(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: *updated}})
	}
	if idleSnap != nil {
		s.publishStatus(st.id, types.StatusIdle)
		s.touchIndex(st)
	}
}

// handleStderr runs on the process's stderr reader goroutine.
func (s *Service) handleStderr(st *sessionState, line string) {
	s.mu.Lock()
	terminal := st.status.Terminal()
	s.mu.Unlock()
	if terminal {
		return
	}
	logging.Debug().Str("session", st.id).Str("line", line).Msg("backend stderr")
	event.PublishSync(event.Event{Type: event.AgentStderr, Data: event.AgentStderrData{Line: types.StderrLine{
		SessionID: st.id,
		Line:      line,
	}}})
}

// handleExit runs once per process, after both readers have drained.
func (s *Service) handleExit(st *sessionState, t *turn, exitErr error) {
	<-t.installed

	s.mu.Lock()
	if st.status.Terminal() {
		// Remove or Shutdown already owns the cleanup.
		s.mu.Unlock()
		return
	}
	interrupted := st.status == types.StatusInterrupted
	st.handle = nil
	st.lastActivity = time.Now().UnixMilli()
	st.status = types.StatusIdle
	st.resumed = true

	var synth []types.Chunk
	if !st.doneSeen {
		// The process died without a completion marker; synthesize one
		// so consumers always see turn closure.
		done := types.Chunk{SessionID: st.id, Done: true}
		synth, _ = st.dedupe.observe(done)
	}
	st.doneSeen = false

	if t.queued {
		st.turnsDone++
	}
	queueSnap := queueCounts{pending: len(st.queue), done: st.turnsDone, total: st.turnsTotal}
	pumpNext := !st.interactive && !interrupted && len(st.queue) > 0
	s.mu.Unlock()

	if exitErr != nil && !interrupted {
		logging.Warn().Str("session", st.id).Err(exitErr).Msg("backend process exited abnormally")
	}

	for _, c := range synth {
		event.PublishSync(event.Event{Type: event.AgentChunk, Data: event.AgentChunkData{Chunk: c}})
	}
	s.publishStatus(st.id, types.StatusIdle)
	if t.queued {
		s.publishQueue(st.id, queueSnap.pending, queueSnap.done, queueSnap.total)
	}
	s.touchIndex(st)

	if pumpNext {
		s.kickQueue(st)
	}
}

// touchIndex refreshes the resume index entry after a completed turn.
func (s *Service) touchIndex(st *sessionState) {
	s.mu.Lock()
	ent := Entry{
		SessionID:  st.id,
		Token:      st.token,
		Backend:    st.backend,
		LastActive: st.lastActivity,
	}
	taskRef, personaID := st.taskRef, st.persona
	s.mu.Unlock()

	if err := s.index.Record(context.Background(), taskRef, personaID, ent); err != nil {
		logging.Warn().Str("session", st.id).Err(err).Msg("resume index write failed")
	}
}

func (s *Service) publishStatus(sessionID string, status types.SessionStatus) {
	event.PublishSync(event.Event{Type: event.SessionStatus, Data: event.SessionStatusData{
		SessionID: sessionID,
		Status:    status,
	}})
}

func (s *Service) publishQueue(sessionID string, pending, done, total int) {
	event.PublishSync(event.Event{Type: event.QueueChanged, Data: event.QueueChangedData{
		SessionID: sessionID,
		Pending:   pending,
		Done:      done,
		Total:     total,
	}})
}

type queueCounts struct {
	pending, done, total int
}

// composePrompt joins the persona prefix and the user text.
func composePrompt(prefix, text string) string {
	switch {
	case prefix == "":
		return text
	case text == "":
		return prefix
	default:
		return prefix + "\n\n" + text
	}
}
