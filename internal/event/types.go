package event

import "github.com/grant-traynor/bp6-sub001/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events, published
// when session metadata changes (unread flag, interactive arming,
// message counters).
type SessionUpdatedData struct {
	Info types.Session `json:"info"`
}

// SessionTerminatedData is the data for session.terminated events.
type SessionTerminatedData struct {
	SessionID string `json:"sessionID"`
}

// SessionStatusData is the data for session.status events.
type SessionStatusData struct {
	SessionID string              `json:"sessionID"`
	Status    types.SessionStatus `json:"status"`
}

// SessionListChangedData is the data for session.list-changed events.
type SessionListChangedData struct {
	Sessions []types.Session `json:"sessions"`
}

// ActiveChangedData is the data for session.active-changed events.
type ActiveChangedData struct {
	SessionID string `json:"sessionID"`
}

// QueueChangedData is the data for session.queue-changed events.
type QueueChangedData struct {
	SessionID string `json:"sessionID"`
	Pending   int    `json:"pending"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
}

// AgentChunkData is the data for agent.chunk events. Chunks for one
// session are published in stream order via PublishSync.
type AgentChunkData struct {
	Chunk types.Chunk `json:"chunk"`
}

// AgentStderrData is the data for agent.stderr events.
type AgentStderrData struct {
	Line types.StderrLine `json:"line"`
}

// TaskListChangedData is the data for task.list-changed events.
type TaskListChangedData struct {
	Tasks []types.Task `json:"tasks"`
}
