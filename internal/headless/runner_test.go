package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/session"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

func TestRunRequiresPrompt(t *testing.T) {
	var buf bytes.Buffer
	r := NewRunner(&Config{OutputFormat: OutputText})

	result, err := r.Run(context.Background(), &buf)
	if err == nil {
		t.Fatal("Expected an error for a promptless run")
	}
	if result.ExitCode != ExitInvalidInput {
		t.Errorf("Expected ExitInvalidInput, got %d", result.ExitCode)
	}
	if result.Status != "error" {
		t.Errorf("Expected error status, got %s", result.Status)
	}
}

func TestResolvePromptCombinesSources(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(file, []byte("attached content"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(&Config{Prompt: "do the thing", Files: []string{file}})
	prompt, err := r.resolvePrompt()
	if err != nil {
		t.Fatalf("resolvePrompt failed: %v", err)
	}
	if !strings.HasPrefix(prompt, "do the thing") {
		t.Errorf("Expected direct prompt first, got: %q", prompt)
	}
	if !strings.Contains(prompt, "--- File: "+file+" ---") {
		t.Errorf("Expected file marker, got: %q", prompt)
	}
	if !strings.Contains(prompt, "attached content") {
		t.Errorf("Expected file content, got: %q", prompt)
	}
}

func TestResolvePromptMissingFile(t *testing.T) {
	r := NewRunner(&Config{Prompt: "x", Files: []string{"/nonexistent/file.txt"}})
	if _, err := r.resolvePrompt(); err == nil {
		t.Error("Expected an error for a missing attachment")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ExitCode
	}{
		{"unknown backend", backend.ErrUnknownBackend, ExitInvalidInput},
		{"unknown persona wrapped", fmt.Errorf("create: %w", persona.ErrUnknownPersona), ExitInvalidInput},
		{"missing binary", fmt.Errorf("spawn claude backend: %w", &exec.Error{Name: "claude", Err: exec.ErrNotFound}), ExitSpawnFailed},
		{"other", errors.New("boom"), ExitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestClassifyOutcome(t *testing.T) {
	r := NewRunner(&Config{Timeout: 5})

	tests := []struct {
		name       string
		settleErr  error
		snap       types.Session
		snapErr    error
		wantStatus string
		wantCode   ExitCode
	}{
		{"timeout", context.DeadlineExceeded, types.Session{}, nil, "timeout", ExitTimeout},
		{"interrupted", context.Canceled, types.Session{}, nil, "interrupted", ExitInterrupted},
		{"vanished", nil, types.Session{}, session.ErrSessionNotFound, "error", ExitError},
		{"halted", nil, types.Session{QueuedTurns: 2}, nil, "queue_halted", ExitQueueHalted},
		{"success", nil, types.Session{}, nil, "success", ExitSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, err := r.classifyOutcome(tt.settleErr, tt.snap, tt.snapErr)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("Expected %s/%d, got %s/%d", tt.wantStatus, tt.wantCode, status, code)
			}
			if tt.wantCode == ExitSuccess && err != nil {
				t.Errorf("Success should carry no error, got: %v", err)
			}
			if tt.wantCode != ExitSuccess && err == nil {
				t.Error("Failure outcomes should carry an error")
			}
		})
	}
}

func publishIdle(id string) {
	event.PublishSync(event.Event{
		Type: event.SessionStatus,
		Data: event.SessionStatusData{SessionID: id, Status: types.StatusIdle},
	})
}

func watcherDone(w *completionWatcher) bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func TestWatcherSettlesOnIdleWithEmptyQueue(t *testing.T) {
	event.Reset()
	w := watchCompletion()
	defer w.stop()

	publishIdle("s-1")

	if !watcherDone(w) {
		t.Error("Expected the watcher to settle on idle with nothing pending")
	}
}

func TestWatcherWaitsWhilePending(t *testing.T) {
	event.Reset()
	w := watchCompletion()
	defer w.stop()

	event.PublishSync(event.Event{
		Type: event.QueueChanged,
		Data: event.QueueChangedData{SessionID: "s-1", Pending: 2, Done: 0, Total: 2},
	})
	publishIdle("s-1")

	if watcherDone(w) {
		t.Error("Watcher should wait while queued turns are pending")
	}

	event.PublishSync(event.Event{
		Type: event.QueueChanged,
		Data: event.QueueChangedData{SessionID: "s-1", Pending: 0, Done: 2, Total: 2},
	})
	publishIdle("s-1")

	if !watcherDone(w) {
		t.Error("Expected the watcher to settle after the queue drained")
	}
}

func TestWatcherSettlesOnQueueHalt(t *testing.T) {
	event.Reset()
	w := watchCompletion()
	defer w.stop()

	event.PublishSync(event.Event{
		Type: event.QueueChanged,
		Data: event.QueueChangedData{SessionID: "s-1", Pending: 2, Done: 0, Total: 2},
	})
	publishIdle("s-1")
	event.PublishSync(event.Event{
		Type: event.AgentStderr,
		Data: event.AgentStderrData{Line: types.StderrLine{
			SessionID: "s-1",
			Line:      session.QueueHaltPrefix + "spawn claude backend: not found",
		}},
	})

	if !watcherDone(w) {
		t.Error("Expected the watcher to settle on the halt diagnostic")
	}
}

func TestWatcherSettlesOnTermination(t *testing.T) {
	event.Reset()
	w := watchCompletion()
	defer w.stop()

	event.PublishSync(event.Event{
		Type: event.SessionTerminated,
		Data: event.SessionTerminatedData{SessionID: "s-1"},
	})

	if !watcherDone(w) {
		t.Error("Expected the watcher to settle on termination")
	}
}
