// Package sessionlog persists agent conversations as append-only JSONL.
//
// Each session run gets its own file under
// <root>/<taskRef|untracked>/<sessionID>-<startUnix>.jsonl, one
// self-contained entry per line. Writes go through a bounded queue and a
// single writer goroutine: persistence is best-effort and never blocks
// or fails the live session. All entry methods are safe on a nil
// *Logger, so callers can carry on when opening the log file failed.
package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// queueSize bounds pending entries; the writer drops with a warning
// beyond this rather than backpressure the streaming path.
const queueSize = 256

// Logger appends one session run's entries to its JSONL file.
type Logger struct {
	path    string
	file    *os.File
	w       *bufio.Writer
	session types.Session

	queue      chan types.LogEntry
	writerDone chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Open creates the log file for one session run and starts the writer.
// TaskRef groups files per task; sessions without one land in
// "untracked".
func Open(root string, info types.Session) (*Logger, error) {
	group := safeSegment(info.TaskRef)
	if group == "" {
		group = "untracked"
	}
	dir := filepath.Join(root, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}

	name := fmt.Sprintf("%s-%d.jsonl", info.ID, time.Now().Unix())
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}

	l := &Logger{
		path:       path,
		file:       file,
		w:          bufio.NewWriter(file),
		session:    info,
		queue:      make(chan types.LogEntry, queueSize),
		writerDone: make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Path returns the log file path, or "" on a nil logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Start records the session_start entry. content carries the rendered
// persona template the session was started with.
func (l *Logger) Start(content string) {
	l.append(types.LogEntry{Event: types.LogSessionStart, Content: content})
}

// Message records an accepted user message.
func (l *Logger) Message(text string) {
	l.append(types.LogEntry{Event: types.LogMessage, Role: "user", Content: text})
}

// Chunk records one streamed output chunk. A done chunk is recorded as
// the session_end marker, mirroring the turn-completion envelope.
func (l *Logger) Chunk(c types.Chunk) {
	if c.Done {
		l.append(types.LogEntry{Event: types.LogSessionEnd, Content: c.Content, Done: true})
		return
	}
	l.append(types.LogEntry{Event: types.LogChunk, Role: "assistant", Content: c.Content})
}

// End records an explicit session_end entry, e.g. on interrupt or
// termination.
func (l *Logger) End(content string) {
	l.append(types.LogEntry{Event: types.LogSessionEnd, Content: content, Done: true})
}

// Close drains pending entries, flushes, and closes the file.
// Idempotent; entry methods called after Close are dropped silently.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.queue)
	<-l.writerDone
	return l.file.Close()
}

func (l *Logger) append(e types.LogEntry) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	e.Time = time.Now().UnixMilli()
	e.SessionID = l.session.ID
	e.TaskRef = l.session.TaskRef
	e.Persona = l.session.Persona
	e.Backend = l.session.Backend

	select {
	case l.queue <- e:
	default:
		logging.Warn().
			Str("sessionID", l.session.ID).
			Msg("session log queue full, entry dropped")
	}
}

func (l *Logger) run() {
	defer close(l.writerDone)
	for e := range l.queue {
		l.write(e)
	}
	if err := l.w.Flush(); err != nil {
		logging.Warn().Err(err).Str("path", l.path).Msg("session log flush failed")
	}
}

// write appends one line and flushes so readers can tail a live file.
// Failures are logged and ignored.
func (l *Logger) write(e types.LogEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		logging.Warn().Err(err).Msg("session log entry not serializable")
		return
	}
	data = append(data, '\n')
	if _, err := l.w.Write(data); err != nil {
		logging.Warn().Err(err).Str("path", l.path).Msg("session log write failed")
		return
	}
	if err := l.w.Flush(); err != nil {
		logging.Warn().Err(err).Str("path", l.path).Msg("session log flush failed")
	}
}

// safeSegment turns a task reference into a single path segment.
func safeSegment(ref string) string {
	ref = strings.ReplaceAll(ref, string(filepath.Separator), "_")
	ref = strings.ReplaceAll(ref, "..", "_")
	return ref
}

// Replay reads a session log file and calls fn for each entry in append
// order. Malformed lines (e.g. a torn tail write) are skipped.
func Replay(path string, fn func(types.LogEntry) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e types.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			logging.Debug().Str("path", path).Msg("skipping malformed session log line")
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan session log: %w", err)
	}
	return nil
}

// Find returns every log file recorded for a session, oldest first.
func Find(root, sessionID string) ([]string, error) {
	pattern := filepath.Join(root, "*", sessionID+"-*.jsonl")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob session logs: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// FindTask returns every log file recorded under a task reference,
// oldest first.
func FindTask(root, taskRef string) ([]string, error) {
	group := safeSegment(taskRef)
	if group == "" {
		group = "untracked"
	}
	pattern := filepath.Join(root, group, "*.jsonl")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob task logs: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// FindAll returns every log file under the root, grouped by task
// reference and oldest first within each group.
func FindAll(root string) ([]string, error) {
	pattern := filepath.Join(root, "*", "*.jsonl")
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob session logs: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}
