// Package proc supervises external agent CLI processes.
//
// Every spawned process is placed in its own process group so that
// termination signals reach helper processes the CLI may fork. Stdout and
// stderr are consumed by dedicated reader goroutines; both are joined
// before the exit callback fires, so no output arrives after a handle
// reports the process released.
package proc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/logging"
)

const (
	// DefaultTermGrace is how long Terminate waits between SIGTERM and
	// SIGKILL when the spec does not override it.
	DefaultTermGrace = 200 * time.Millisecond

	// maxLineSize bounds a single stdout line. Agent CLIs emit very
	// large JSON lines for file-heavy tool results.
	maxLineSize = 1024 * 1024
)

var (
	// ErrNoStdin is returned by Write when the process was spawned
	// without a stdin pipe.
	ErrNoStdin = errors.New("process has no stdin pipe")

	// ErrNotRunning is returned by Write when the process has exited.
	ErrNotRunning = errors.New("process is not running")
)

// Spec describes one process to spawn.
type Spec struct {
	// Command is the binary to run.
	Command string
	// Args is the argument vector, not including the command itself.
	Args []string
	// Dir is the working directory. Empty inherits the parent's.
	Dir string
	// Env holds extra environment entries appended to the parent's.
	Env []string
	// Stdin opens a stdin pipe for duplex operation.
	Stdin bool
	// TermGrace overrides the SIGTERM-to-SIGKILL grace period.
	TermGrace time.Duration

	// OnStdoutLine receives each non-empty stdout line in emission
	// order, called from the single stdout reader goroutine. The slice
	// is reused between calls; copy it to retain.
	OnStdoutLine func(line []byte)
	// OnStderrLine receives each stderr line verbatim.
	OnStderrLine func(line string)
	// OnExit is called exactly once, after both readers have drained
	// and the process has been reaped. err is non-nil on abnormal exit.
	OnExit func(err error)
}

// Handle supervises one live process.
type Handle struct {
	cmd   *exec.Cmd
	pid   int
	grace time.Duration

	mu      sync.RWMutex
	alive   bool
	exitErr error

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	killOnce sync.Once
	readers  sync.WaitGroup
	done     chan struct{}
}

// Spawn starts the process described by spec.
//
// Failures (binary missing, bad working directory) are synchronous: a
// non-nil error means nothing was started and there is nothing to clean
// up.
func Spawn(spec Spec) (*Handle, error) {
	if spec.Command == "" {
		return nil, errors.New("proc: empty command")
	}
	grace := spec.TermGrace
	if grace <= 0 {
		grace = DefaultTermGrace
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	// Own process group, so group signals reach forked helpers too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	var stdin io.WriteCloser
	if spec.Stdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	h := &Handle{
		cmd:   cmd,
		pid:   cmd.Process.Pid,
		grace: grace,
		alive: true,
		stdin: stdin,
		done:  make(chan struct{}),
	}

	logging.Debug().
		Str("command", spec.Command).
		Int("pid", h.pid).
		Msg("process spawned")

	h.readers.Add(2)
	go h.readStdout(stdout, spec.OnStdoutLine)
	go h.readStderr(stderr, spec.OnStderrLine)
	go h.wait(spec.OnExit)

	return h, nil
}

// PID returns the direct child's process ID.
func (h *Handle) PID() int {
	return h.pid
}

// IsAlive reports whether the process has not yet been reaped.
func (h *Handle) IsAlive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.alive
}

// ExitErr returns the process exit error once it has been reaped, nil
// for a clean exit or while still running.
func (h *Handle) ExitErr() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitErr
}

// Done returns a channel closed once the process has exited, both
// readers have drained, and the exit callback has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Terminate stops the whole process group: SIGTERM first, then SIGKILL
// if the process is still alive after the grace period. Idempotent and
// safe to call on an already-dead process.
func (h *Handle) Terminate() {
	h.killOnce.Do(func() {
		if !h.IsAlive() {
			return
		}
		// Negative pid addresses the whole group.
		_ = syscall.Kill(-h.pid, syscall.SIGTERM)
		select {
		case <-h.done:
		case <-time.After(h.grace):
			logging.Debug().Int("pid", h.pid).Msg("grace expired, killing process group")
			_ = syscall.Kill(-h.pid, syscall.SIGKILL)
		}
	})
}

// Interrupt sends SIGINT to the process group. No-op when dead.
func (h *Handle) Interrupt() {
	if !h.IsAlive() {
		return
	}
	_ = syscall.Kill(-h.pid, syscall.SIGINT)
}

// Write delivers p to the process's stdin.
func (h *Handle) Write(p []byte) error {
	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if h.stdin == nil {
		return ErrNoStdin
	}
	if !h.IsAlive() {
		return ErrNotRunning
	}
	if _, err := h.stdin.Write(p); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// CloseStdin closes the stdin pipe, letting a duplex process see
// end-of-input and finish naturally.
func (h *Handle) CloseStdin() error {
	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	if h.stdin == nil {
		return nil
	}
	err := h.stdin.Close()
	h.stdin = nil
	return err
}

func (h *Handle) readStdout(r io.Reader, fn func([]byte)) {
	defer h.readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if fn != nil {
			fn(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Debug().Int("pid", h.pid).Err(err).Msg("stdout reader stopped")
	}
}

func (h *Handle) readStderr(r io.Reader, fn func(string)) {
	defer h.readers.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if fn != nil {
			fn(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logging.Debug().Int("pid", h.pid).Err(err).Msg("stderr reader stopped")
	}
}

// wait reaps the process after both pipes drain, then runs the exit
// callback and releases Done waiters.
func (h *Handle) wait(onExit func(error)) {
	h.readers.Wait()
	err := h.cmd.Wait()

	h.mu.Lock()
	h.alive = false
	h.exitErr = err
	h.mu.Unlock()

	logging.Debug().Int("pid", h.pid).Err(err).Msg("process exited")

	if onExit != nil {
		onExit(err)
	}
	close(h.done)
}
