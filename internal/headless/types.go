package headless

import (
	"time"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates all turns completed.
	ExitSuccess ExitCode = 0
	// ExitError indicates a general/unknown error.
	ExitError ExitCode = 1
	// ExitTimeout indicates the run exceeded its timeout.
	ExitTimeout ExitCode = 2
	// ExitInterrupted indicates the run was interrupted by a signal.
	ExitInterrupted ExitCode = 3
	// ExitSpawnFailed indicates the backend CLI could not be started.
	ExitSpawnFailed ExitCode = 4
	// ExitInvalidInput indicates a bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
	// ExitQueueHalted indicates queued turns stopped after repeated
	// spawn failures.
	ExitQueueHalted ExitCode = 6
)

// Config holds configuration for one headless run.
type Config struct {
	// Prompt is the instruction for the first turn.
	Prompt string
	// Queue holds additional prompts executed in order after the first.
	Queue []string
	// TaskRef links the run to an external task. Repeated runs with the
	// same task and persona resume the prior backend conversation.
	TaskRef string
	// Persona selects the prompt template set.
	Persona string
	// Backend selects the agent CLI kind.
	Backend string
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout is the maximum run time. Zero means no limit.
	Timeout time.Duration
	// ReadStdin indicates whether to read the prompt from stdin.
	ReadStdin bool
	// Files is a list of files whose contents are appended to the prompt.
	Files []string
	// Quiet suppresses progress output, only shows agent text.
	Quiet bool
	// Verbose shows all events (stderr lines, turn markers).
	Verbose bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
		Timeout:      30 * time.Minute,
	}
}

// Result holds the final result of a headless run.
type Result struct {
	SessionID    string   `json:"session_id"`
	TaskRef      string   `json:"task_ref,omitempty"`
	Persona      string   `json:"persona"`
	Backend      string   `json:"backend"`
	Status       string   `json:"status"` // "success", "error", "timeout", "interrupted", "queue_halted"
	DurationMS   int64    `json:"duration_ms"`
	Chunks       int      `json:"chunks"`
	TurnsDone    int      `json:"turns_done"`
	TurnsTotal   int      `json:"turns_total"`
	FinalMessage string   `json:"final_message,omitempty"`
	Error        string   `json:"error,omitempty"`
	ExitCode     ExitCode `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
