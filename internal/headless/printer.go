package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Printer renders bus events in the selected output format and tracks
// the run result as events arrive.
type Printer struct {
	mu          sync.Mutex
	writer      io.Writer
	format      OutputFormat
	quiet       bool
	verbose     bool
	unsubscribe func()
	startTime   time.Time
	result      *Result
	turnBuf     strings.Builder
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
	}
}

// Subscribe starts listening to events.
func (p *Printer) Subscribe() {
	p.unsubscribe = event.SubscribeAll(p.handleEvent)
}

// Unsubscribe stops listening to events.
func (p *Printer) Unsubscribe() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// SetSession records the session identity in the result.
func (p *Printer) SetSession(info types.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.SessionID = info.ID
	p.result.TaskRef = info.TaskRef
	p.result.Persona = info.Persona
	p.result.Backend = info.Backend
}

// SetResult updates the result with final values.
func (p *Printer) SetResult(status string, exitCode ExitCode, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.Status = status
	p.result.ExitCode = exitCode
	if err != nil {
		p.result.Error = err.Error()
	}
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
}

// GetResult returns the current result.
func (p *Printer) GetResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
	return p.result
}

// PrintSummary prints the closing line for text format.
func (p *Printer) PrintSummary() {
	if p.format != OutputText || p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.writer, "\n[done] %s in %s (%d chunks)\n",
		p.result.Status, formatDuration(time.Since(p.startTime)), p.result.Chunks)
}

// PrintFinalResult prints the final JSON result (for json format).
func (p *Printer) PrintFinalResult() {
	if p.format != OutputJSON {
		return
	}
	result := p.GetResult()
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// handleEvent processes incoming events and outputs them according to
// the format.
func (p *Printer) handleEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trackEvent(e)

	switch p.format {
	case OutputText:
		p.handleTextEvent(e)
	case OutputJSONL:
		p.handleJSONLEvent(e)
	}
	// JSON format only outputs the final result.
}

// handleTextEvent outputs events in human-readable text format.
func (p *Printer) handleTextEvent(e event.Event) {
	if p.quiet {
		// In quiet mode, only output agent text.
		if data, ok := e.Data.(event.AgentChunkData); ok && data.Chunk.Content != "" {
			fmt.Fprintln(p.writer, data.Chunk.Content)
		}
		return
	}

	switch e.Type {
	case event.SessionCreated:
		if data, ok := e.Data.(event.SessionCreatedData); ok {
			fmt.Fprintf(p.writer, "[session:%s] %s/%s starting\n",
				truncateID(data.Info.ID), data.Info.Backend, data.Info.Persona)
		}

	case event.SessionStatus:
		if data, ok := e.Data.(event.SessionStatusData); ok {
			switch data.Status {
			case types.StatusHeadless:
				fmt.Fprintf(p.writer, "[queue] turn %d of %d\n",
					p.result.TurnsDone+1, p.result.TurnsTotal)
			case types.StatusInterrupted:
				fmt.Fprintf(p.writer, "[interrupt] signalling agent\n")
			}
		}

	case event.AgentChunk:
		if data, ok := e.Data.(event.AgentChunkData); ok {
			if data.Chunk.Content != "" {
				fmt.Fprintln(p.writer, data.Chunk.Content)
			}
			if data.Chunk.Done && p.verbose {
				fmt.Fprintf(p.writer, "[turn] complete\n")
			}
		}

	case event.AgentStderr:
		if data, ok := e.Data.(event.AgentStderrData); ok && p.verbose {
			fmt.Fprintf(p.writer, "[stderr] %s\n", data.Line.Line)
		}

	case event.SessionTerminated:
		if data, ok := e.Data.(event.SessionTerminatedData); ok && p.verbose {
			fmt.Fprintf(p.writer, "[session:%s] terminated\n", truncateID(data.SessionID))
		}
	}
}

// handleJSONLEvent outputs events in JSONL format.
func (p *Printer) handleJSONLEvent(e event.Event) {
	if !p.verbose && !isImportantEvent(e.Type) {
		return
	}

	data, err := json.Marshal(NewEvent(string(e.Type), e.Data))
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// trackEvent folds events into the final result.
func (p *Printer) trackEvent(e event.Event) {
	switch e.Type {
	case event.AgentChunk:
		data, ok := e.Data.(event.AgentChunkData)
		if !ok {
			return
		}
		if data.Chunk.Content != "" {
			p.result.Chunks++
			if p.turnBuf.Len() > 0 {
				p.turnBuf.WriteByte('\n')
			}
			p.turnBuf.WriteString(data.Chunk.Content)
		}
		if data.Chunk.Done && p.turnBuf.Len() > 0 {
			p.result.FinalMessage = strings.TrimSpace(p.turnBuf.String())
			p.turnBuf.Reset()
		}

	case event.QueueChanged:
		if data, ok := e.Data.(event.QueueChangedData); ok {
			p.result.TurnsDone = data.Done
			p.result.TurnsTotal = data.Total
		}
	}
}

// Helper functions

func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func isImportantEvent(eventType event.EventType) bool {
	switch eventType {
	case event.SessionCreated,
		event.SessionStatus,
		event.SessionTerminated,
		event.QueueChanged,
		event.AgentChunk,
		event.AgentStderr:
		return true
	default:
		return false
	}
}
