package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/storage"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// fakePlugin drives /bin/sh scripts as a stand-in agent CLI. The script
// sees the resume token as $1 and the prompt as $2. Lines starting with
// "OUT:" become content chunks, a bare "DONE" line is the completion
// marker, and anything else is noise the parser skips. Duplex mode
// reads "IN:" framed prompts from stdin.
type fakePlugin struct {
	mu          sync.Mutex
	script      string
	duplex      string
	tokens      int
	invocations []invocation
}

type invocation struct {
	Token string
	Mode  backend.Mode
}

func newFakePlugin(script, duplex string) *fakePlugin {
	return &fakePlugin{script: script, duplex: duplex}
}

func (f *fakePlugin) ID() string          { return "fake" }
func (f *fakePlugin) Command() string     { return "/bin/sh" }
func (f *fakePlugin) Description() string { return "scripted test backend" }

func (f *fakePlugin) NewToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens++
	return fmt.Sprintf("tok-%d", f.tokens)
}

func (f *fakePlugin) CheckToken(token string) error {
	if token == "bad" {
		return backend.ErrBadToken
	}
	return nil
}

func (f *fakePlugin) BuildArgs(token, prompt string, mode backend.Mode) []string {
	f.mu.Lock()
	f.invocations = append(f.invocations, invocation{Token: token, Mode: mode})
	script := f.script
	if mode.Interactive() && f.duplex != "" {
		script = f.duplex
	}
	f.mu.Unlock()
	return []string{"-c", script, "fake-agent", token, prompt}
}

// setScript swaps the headless script mid-test.
func (f *fakePlugin) setScript(script string) {
	f.mu.Lock()
	f.script = script
	f.mu.Unlock()
}

func (f *fakePlugin) ParseLine(line []byte) (types.Chunk, bool) {
	s := string(line)
	switch {
	case strings.HasPrefix(s, "OUT:"):
		return types.Chunk{Content: strings.TrimPrefix(s, "OUT:")}, true
	case s == "DONE":
		return types.Chunk{Done: true}, true
	}
	return types.Chunk{}, false
}

func (f *fakePlugin) EncodeInput(text string) []byte {
	return []byte("IN:" + strings.ReplaceAll(text, "\n", "\\n") + "\n")
}

// calls returns a copy of the recorded invocations.
func (f *fakePlugin) calls() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.invocations...)
}

// mintedTokens returns how many fresh tokens were handed out.
func (f *fakePlugin) mintedTokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

// newTestService builds a Service wired to the fake backend, rooted in
// a temp directory. Passing a nil cfg uses bare defaults. The returned
// string is the session log root.
func newTestService(t *testing.T, fake *fakePlugin, cfg *types.Config) (*Service, string) {
	t.Helper()

	root := t.TempDir()
	store := storage.New(filepath.Join(root, "storage"))

	personas, err := persona.NewRegistry(filepath.Join(root, "personas"))
	require.NoError(t, err)

	reg := backend.NewRegistry()
	reg.Register(fake)

	if cfg == nil {
		cfg = &types.Config{}
	}
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = "fake"
	}
	if cfg.DefaultPersona == "" {
		cfg.DefaultPersona = "specialist"
	}

	logRoot := filepath.Join(root, "sessions")
	svc := NewService(cfg, reg, personas, store, logRoot)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, logRoot
}

// eventCollector records everything published on the global bus.
type eventCollector struct {
	mu     sync.Mutex
	events []event.Event
}

// collectEvents resets the global bus and subscribes a collector for
// the duration of the test.
func collectEvents(t *testing.T) *eventCollector {
	t.Helper()
	event.Reset()
	c := &eventCollector{}
	unsub := event.SubscribeAll(func(e event.Event) {
		c.mu.Lock()
		c.events = append(c.events, e)
		c.mu.Unlock()
	})
	t.Cleanup(unsub)
	return c
}

func (c *eventCollector) snapshot() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]event.Event(nil), c.events...)
}

// chunks returns the chunk stream observed for one session.
func (c *eventCollector) chunks(sessionID string) []types.Chunk {
	var out []types.Chunk
	for _, e := range c.snapshot() {
		if e.Type != event.AgentChunk {
			continue
		}
		data, ok := e.Data.(event.AgentChunkData)
		if !ok || data.Chunk.SessionID != sessionID {
			continue
		}
		out = append(out, data.Chunk)
	}
	return out
}

// text joins the content of all non-done chunks for one session.
func (c *eventCollector) text(sessionID string) string {
	var b strings.Builder
	for _, ch := range c.chunks(sessionID) {
		b.WriteString(ch.Content)
	}
	return b.String()
}

// doneCount counts completion envelopes observed for one session.
func (c *eventCollector) doneCount(sessionID string) int {
	n := 0
	for _, ch := range c.chunks(sessionID) {
		if ch.Done {
			n++
		}
	}
	return n
}

// statuses returns the status transition sequence for one session.
func (c *eventCollector) statuses(sessionID string) []types.SessionStatus {
	var out []types.SessionStatus
	for _, e := range c.snapshot() {
		if e.Type != event.SessionStatus {
			continue
		}
		data, ok := e.Data.(event.SessionStatusData)
		if !ok || data.SessionID != sessionID {
			continue
		}
		out = append(out, data.Status)
	}
	return out
}

// echoScript replies with the prompt it was given. Multi-line prompts
// are flattened so the reply stays a single protocol line.
const echoScript = `p=$(printf %s "$2" | tr '\n' ' '); echo "OUT:$p"; echo "DONE"`

const duplexScript = `while IFS= read -r line; do
  case "$line" in
    IN:*) printf 'OUT:got %s\n' "${line#IN:}"; echo "DONE";;
  esac
done`
