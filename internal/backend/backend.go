package backend

import (
	"errors"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Errors returned by backend plugins and the registry.
var (
	// ErrUnknownBackend is returned when a backend kind is not registered.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrBadToken is returned when a resume token does not satisfy the
	// backend's token format requirements.
	ErrBadToken = errors.New("invalid session token")
)

// Mode selects the invocation form for a backend process.
type Mode int

const (
	// ModeHeadless runs a single fresh turn: the process receives the
	// prompt on the command line and exits when the turn completes.
	ModeHeadless Mode = iota

	// ModeHeadlessResume runs a single turn that continues an earlier
	// conversation identified by the session token.
	ModeHeadlessResume

	// ModeInteractiveFresh starts a persistent duplex process with no
	// prior history. Prompts are delivered over stdin via EncodeInput.
	ModeInteractiveFresh

	// ModeInteractiveResume starts a persistent duplex process that
	// continues the conversation identified by the session token.
	ModeInteractiveResume
)

// Interactive reports whether the mode spawns a persistent duplex process.
func (m Mode) Interactive() bool {
	return m == ModeInteractiveFresh || m == ModeInteractiveResume
}

// Resume reports whether the mode continues an earlier conversation.
func (m Mode) Resume() bool {
	return m == ModeHeadlessResume || m == ModeInteractiveResume
}

// String returns the mode name for logging.
func (m Mode) String() string {
	switch m {
	case ModeHeadless:
		return "headless"
	case ModeHeadlessResume:
		return "headless-resume"
	case ModeInteractiveFresh:
		return "interactive-fresh"
	case ModeInteractiveResume:
		return "interactive-resume"
	default:
		return "unknown"
	}
}

// Plugin defines the interface every backend CLI adapter implements.
//
// Each backend has its own conversation-resume semantics and its own
// streaming JSON output format. The plugin normalizes both so the rest
// of the system never branches on backend kind.
type Plugin interface {
	// ID returns the backend identifier (e.g. "claude", "gemini").
	ID() string

	// Command returns the CLI binary name to spawn. Configuration may
	// override this with an absolute path at spawn time.
	Command() string

	// Description returns a human-readable backend description.
	Description() string

	// NewToken mints a resume token for a fresh session. Backends that
	// cannot pre-assign conversation identifiers return "".
	NewToken() string

	// CheckToken validates a caller-supplied resume token. Returns an
	// error wrapping ErrBadToken when the format is unacceptable.
	CheckToken(token string) error

	// BuildArgs constructs the argument vector for the given invocation
	// mode. The command name itself is not included. Interactive modes
	// omit the prompt: it is delivered over stdin via EncodeInput.
	BuildArgs(token, prompt string, mode Mode) []string

	// ParseLine parses one line of stdout into a content chunk. The
	// second return is false when the line carries nothing renderable:
	// malformed JSON, partial writes, and unrecognized event types are
	// all skipped without aborting the stream. A line recognized as the
	// backend's completion marker yields a chunk with Done set.
	ParseLine(line []byte) (types.Chunk, bool)

	// EncodeInput frames a prompt for delivery over a persistent
	// process's stdin, including any trailing newline.
	EncodeInput(text string) []byte
}
