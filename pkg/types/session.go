// Package types provides the shared data types for the bp6 orchestrator.
package types

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusIdle         SessionStatus = "idle"
	StatusRunning      SessionStatus = "running"
	StatusHeadless     SessionStatus = "headless_executing"
	StatusInterrupted  SessionStatus = "interrupted"
	StatusTerminated   SessionStatus = "terminated"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusTerminated
}

// Busy reports whether the status implies a live turn in flight.
func (s SessionStatus) Busy() bool {
	return s == StatusRunning || s == StatusHeadless || s == StatusInterrupted
}

// Session is the externally visible snapshot of one agent session.
type Session struct {
	ID           string        `json:"id"`
	TaskRef      string        `json:"taskRef,omitempty"`
	Persona      string        `json:"persona"`
	Backend      string        `json:"backend"`
	Status       SessionStatus `json:"status"`
	Interactive  bool          `json:"interactive"`
	MessageCount int           `json:"messageCount"`
	HasUnread    bool          `json:"hasUnread"`
	QueuedTurns  int           `json:"queuedTurns"`
	TurnsDone    int           `json:"turnsDone"`
	TurnsTotal   int           `json:"turnsTotal"`
	Time         SessionTime   `json:"time"`
}

// SessionTime contains timestamps for a session, in unix milliseconds.
type SessionTime struct {
	Created      int64 `json:"created"`
	LastActivity int64 `json:"lastActivity"`
}
