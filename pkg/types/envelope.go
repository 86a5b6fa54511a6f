package types

// Chunk is one unit of streamed agent output for a session: either an
// incremental content fragment or, with Done set, the turn-completion
// marker. Chunks for a single session are strictly ordered.
type Chunk struct {
	SessionID string `json:"sessionID"`
	Content   string `json:"content"`
	Done      bool   `json:"done"`
}

// StderrLine is one raw diagnostic line from an agent process, forwarded
// verbatim and never parsed.
type StderrLine struct {
	SessionID string `json:"sessionID"`
	Line      string `json:"line"`
}

// Log event types recorded by the session logger.
const (
	LogSessionStart = "session_start"
	LogMessage      = "message"
	LogChunk        = "chunk"
	LogSessionEnd   = "session_end"
)

// LogEntry is one line of a session's append-only JSONL log file.
type LogEntry struct {
	Time      int64  `json:"time"`
	SessionID string `json:"sessionID"`
	TaskRef   string `json:"taskRef,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Event     string `json:"event"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done,omitempty"`
}
