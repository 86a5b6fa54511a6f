package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/session"
	"github.com/grant-traynor/bp6-sub001/internal/storage"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Runner executes one session headlessly: it creates the session with
// the configured prompt and queue, streams all output to the writer,
// and exits once every turn has completed.
type Runner struct {
	config  *Config
	printer *Printer
	service *session.Service
}

// NewRunner creates a new headless runner.
func NewRunner(cfg *Config) *Runner {
	return &Runner{
		config: cfg,
	}
}

// Run executes the headless session and returns the result. The
// returned error is non-nil for every outcome other than success; the
// result carries the exit code either way.
func (r *Runner) Run(ctx context.Context, writer io.Writer) (*Result, error) {
	r.printer = NewPrinter(writer, r.config.OutputFormat, r.config.Quiet, r.config.Verbose)

	prompt, err := r.resolvePrompt()
	if err != nil {
		r.printer.SetResult("error", ExitInvalidInput, err)
		return r.printer.GetResult(), err
	}
	if prompt == "" && len(r.config.Queue) == 0 {
		err := errors.New("prompt is required")
		r.printer.SetResult("error", ExitInvalidInput, err)
		return r.printer.GetResult(), err
	}

	if err := r.initialize(ctx); err != nil {
		r.printer.SetResult("error", ExitError, err)
		return r.printer.GetResult(), err
	}

	// Subscribe before Create so the creation events are seen.
	r.printer.Subscribe()
	defer r.printer.Unsubscribe()

	watcher := watchCompletion()
	defer watcher.stop()

	info, err := r.service.Create(ctx, session.CreateOptions{
		TaskRef:       r.config.TaskRef,
		Persona:       r.config.Persona,
		Backend:       r.config.Backend,
		InitialPrompt: prompt,
		QueuedTurns:   r.config.Queue,
	})
	if err != nil {
		r.printer.SetResult("error", classifyError(err), err)
		return r.printer.GetResult(), err
	}
	r.printer.SetSession(info)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	settleErr := r.await(runCtx, watcher, info.ID)

	// Snapshot before shutdown: the halt check and the final turn
	// counters need the registry entry.
	snap, snapErr := r.service.Get(context.Background(), info.ID)
	_ = r.service.Shutdown(context.Background())
	r.printer.Unsubscribe()
	watcher.stop()

	status, code, runErr := r.classifyOutcome(settleErr, snap, snapErr)
	r.printer.SetResult(status, code, runErr)
	result := r.printer.GetResult()
	if snapErr == nil {
		result.TurnsDone = snap.TurnsDone
		result.TurnsTotal = snap.TurnsTotal
	}

	r.printer.PrintSummary()
	r.printer.PrintFinalResult()
	return result, runErr
}

// initialize builds the orchestrator stack the run executes on.
func (r *Runner) initialize(ctx context.Context) error {
	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	paths := config.PathsAt(appConfig.DataDir)
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("ensure data directories: %w", err)
	}

	personaDir := paths.Personas
	if appConfig.Persona != nil && appConfig.Persona.Dir != "" {
		personaDir = appConfig.Persona.Dir
	}
	personas, err := persona.NewRegistry(personaDir)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	backends := backend.DefaultRegistry(appConfig)
	store := storage.New(paths.Storage)

	r.service = session.NewService(appConfig, backends, personas, store, paths.Sessions)
	r.service.PruneIndex(ctx)
	return nil
}

// resolvePrompt assembles the first-turn prompt from stdin, the direct
// prompt, and any attached files.
func (r *Runner) resolvePrompt() (string, error) {
	var prompt string

	if r.config.ReadStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		prompt = string(data)
	}

	if r.config.Prompt != "" {
		if prompt != "" {
			prompt = r.config.Prompt + "\n\n" + prompt
		} else {
			prompt = r.config.Prompt
		}
	}

	if len(r.config.Files) > 0 {
		var b strings.Builder
		for _, file := range r.config.Files {
			content, err := os.ReadFile(file)
			if err != nil {
				return "", fmt.Errorf("read file %s: %w", file, err)
			}
			fmt.Fprintf(&b, "\n\n--- File: %s ---\n%s", file, content)
		}
		prompt += b.String()
	}

	return strings.TrimSpace(prompt), nil
}

// await blocks until the session settles or the context ends. On a
// context end the session is interrupted and given a bounded window to
// wind down.
func (r *Runner) await(ctx context.Context, watcher *completionWatcher, sessionID string) error {
	select {
	case <-watcher.done:
		return nil
	case <-ctx.Done():
	}

	_ = r.service.Interrupt(context.Background(), sessionID)
	select {
	case <-watcher.done:
	case <-time.After(5 * time.Second):
	}
	return ctx.Err()
}

// classifyOutcome maps how the run ended to a status and exit code.
func (r *Runner) classifyOutcome(settleErr error, snap types.Session, snapErr error) (string, ExitCode, error) {
	switch {
	case errors.Is(settleErr, context.DeadlineExceeded):
		return "timeout", ExitTimeout, fmt.Errorf("run timed out after %s", r.config.Timeout)
	case settleErr != nil:
		return "interrupted", ExitInterrupted, settleErr
	case snapErr != nil:
		return "error", ExitError, fmt.Errorf("session ended unexpectedly: %w", snapErr)
	case snap.QueuedTurns > 0:
		return "queue_halted", ExitQueueHalted,
			fmt.Errorf("%d queued turns halted after repeated spawn failures", snap.QueuedTurns)
	default:
		return "success", ExitSuccess, nil
	}
}

// classifyError maps a creation failure to an exit code.
func classifyError(err error) ExitCode {
	switch {
	case errors.Is(err, backend.ErrUnknownBackend), errors.Is(err, persona.ErrUnknownPersona):
		return ExitInvalidInput
	case errors.Is(err, exec.ErrNotFound):
		return ExitSpawnFailed
	default:
		return ExitError
	}
}

// completionWatcher signals when the run's session settles: idle with
// nothing pending, or terminated. The runner owns the only session in
// the process, so events are not filtered by ID.
type completionWatcher struct {
	mu      sync.Mutex
	pending int
	done    chan struct{}
	once    sync.Once
	unsub   func()
}

func watchCompletion() *completionWatcher {
	w := &completionWatcher{done: make(chan struct{})}
	w.unsub = event.SubscribeAll(w.observe)
	return w
}

func (w *completionWatcher) observe(e event.Event) {
	switch data := e.Data.(type) {
	case event.QueueChangedData:
		w.mu.Lock()
		w.pending = data.Pending
		w.mu.Unlock()
	case event.SessionStatusData:
		if data.Status != types.StatusIdle {
			return
		}
		w.mu.Lock()
		settled := w.pending == 0
		w.mu.Unlock()
		// Idle with turns still pending is the gap before the next
		// queued spawn; a halt announces itself on stderr instead.
		if settled {
			w.signal()
		}
	case event.AgentStderrData:
		if strings.HasPrefix(data.Line.Line, session.QueueHaltPrefix) {
			w.signal()
		}
	case event.SessionTerminatedData:
		w.signal()
	}
}

func (w *completionWatcher) signal() {
	w.once.Do(func() { close(w.done) })
}

func (w *completionWatcher) stop() {
	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
}
