package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// claudePlugin adapts the Anthropic Claude Code CLI.
//
// Claude requires resume tokens in strict UUID form. Fresh sessions
// pre-assign the UUID with --session-id so the token is known before the
// first turn ever runs; resumed turns pass the same UUID to --resume.
type claudePlugin struct{}

// NewClaude returns the Claude Code backend plugin.
func NewClaude() Plugin {
	return &claudePlugin{}
}

func (p *claudePlugin) ID() string          { return "claude" }
func (p *claudePlugin) Command() string     { return "claude" }
func (p *claudePlugin) Description() string { return "Anthropic Claude Code CLI" }

func (p *claudePlugin) NewToken() string {
	return uuid.NewString()
}

func (p *claudePlugin) CheckToken(token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return fmt.Errorf("%w: claude requires a UUID token, got %q", ErrBadToken, token)
	}
	return nil
}

func (p *claudePlugin) BuildArgs(token, prompt string, mode Mode) []string {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if mode.Interactive() {
		args = append(args, "--input-format", "stream-json")
	}
	if mode.Resume() {
		args = append(args, "--resume", token)
	} else if token != "" {
		args = append(args, "--session-id", token)
	}
	if !mode.Interactive() {
		// Prompt stays last; interactive prompts arrive over stdin.
		args = append(args, "-p", prompt)
	}
	return args
}

// claudeEvent is one line of claude's stream-json stdout.
type claudeEvent struct {
	Type    string        `json:"type"`
	Message claudeMessage `json:"message"`
	IsError bool          `json:"is_error"`
	Errors  []string      `json:"errors"`
	Result  string        `json:"result"`
}

type claudeMessage struct {
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (p *claudePlugin) ParseLine(line []byte) (types.Chunk, bool) {
	var ev claudeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return types.Chunk{}, false
	}

	switch ev.Type {
	case "assistant":
		// First renderable block wins; the CLI emits one block per event
		// in practice.
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					return types.Chunk{Content: block.Text}, true
				}
			case "tool_use":
				if block.Name != "" {
					return types.Chunk{Content: renderToolUse(block)}, true
				}
			}
		}

	case "result":
		if ev.IsError {
			detail := strings.Join(ev.Errors, "; ")
			if detail == "" {
				detail = ev.Result
			}
			if detail == "" {
				detail = "backend reported an error"
			}
			return types.Chunk{Content: "error: " + detail, Done: true}, true
		}
		return types.Chunk{Done: true}, true
	}

	return types.Chunk{}, false
}

// renderToolUse produces a one-line activity summary for a tool_use block
// so observers see progress during long tool calls.
func renderToolUse(block claudeBlock) string {
	var in struct {
		Description string `json:"description"`
	}
	_ = json.Unmarshal(block.Input, &in)
	if in.Description != "" {
		return fmt.Sprintf("[tool] %s: %s", block.Name, in.Description)
	}
	return fmt.Sprintf("[tool] %s", block.Name)
}

// claudeStdinMessage is the stream-json frame claude accepts on stdin
// when running with --input-format stream-json.
type claudeStdinMessage struct {
	Type    string           `json:"type"`
	Message claudeStdinInner `json:"message"`
}

type claudeStdinInner struct {
	Role    string             `json:"role"`
	Content []claudeStdinBlock `json:"content"`
}

type claudeStdinBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (p *claudePlugin) EncodeInput(text string) []byte {
	msg := claudeStdinMessage{
		Type: "user",
		Message: claudeStdinInner{
			Role:    "user",
			Content: []claudeStdinBlock{{Type: "text", Text: text}},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return append(data, '\n')
}
