package types

// Config represents the bp6 orchestrator configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Data root; defaults to ~/.bp6
	DataDir string `json:"dataDir,omitempty"`

	// Defaults applied when a create request omits them
	DefaultBackend string `json:"defaultBackend,omitempty"`
	DefaultPersona string `json:"defaultPersona,omitempty"`

	// HTTP server settings
	Server *ServerConfig `json:"server,omitempty"`

	// Per-backend overrides, keyed by backend kind
	Backend map[string]BackendConfig `json:"backend,omitempty"`

	// Persona template directory
	Persona *PersonaConfig `json:"persona,omitempty"`

	// External task feed
	Tasks *TaskFeedConfig `json:"tasks,omitempty"`

	// Session behavior knobs
	Session *SessionConfig `json:"session,omitempty"`

	// Logging
	Log *LogConfig `json:"log,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// BackendConfig holds per-backend-kind overrides.
type BackendConfig struct {
	// Command overrides the binary name looked up on PATH
	Command string `json:"command,omitempty"`

	// ExtraArgs are appended to every invocation of this backend
	ExtraArgs []string `json:"extraArgs,omitempty"`

	// WorkDir is the working directory for spawned processes
	WorkDir string `json:"workDir,omitempty"`

	// Env entries added to the child environment, KEY=VALUE
	Env []string `json:"env,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// PersonaConfig holds persona loading settings.
type PersonaConfig struct {
	Dir string `json:"dir,omitempty"`
}

// TaskFeedConfig holds external task feed settings.
type TaskFeedConfig struct {
	// Path to a newline-delimited JSON task file
	Path string `json:"path,omitempty"`
}

// SessionConfig holds session behavior knobs.
type SessionConfig struct {
	// DedupeWindow enables duplicate-reply suppression when > 0: a turn
	// whose assembled payload equals the previous turn's is collapsed to
	// its done envelope in the event stream (still logged in full). The
	// value bounds, in bytes, the payload size eligible for comparison.
	// 0 disables the heuristic.
	DedupeWindow int `json:"dedupeWindow,omitempty"`

	// QueueRetries bounds spawn retries for automatic queue re-invocation
	QueueRetries int `json:"queueRetries,omitempty"`

	// TermGraceMS is the delay between SIGTERM and SIGKILL on terminate
	TermGraceMS int `json:"termGraceMS,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level,omitempty"` // "debug"|"info"|"warn"|"error"
	Pretty bool   `json:"pretty,omitempty"`

	// File enables an additional sink under <dataDir>/logs
	File bool `json:"file,omitempty"`
}
