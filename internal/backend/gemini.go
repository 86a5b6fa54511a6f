package backend

import (
	"encoding/json"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// geminiPlugin adapts the Google Gemini CLI.
//
// Gemini cannot pre-assign conversation identifiers, so fresh sessions
// carry an empty token. Resume accepts an arbitrary token string or the
// "latest" shorthand, which an empty token maps to.
type geminiPlugin struct{}

// NewGemini returns the Gemini backend plugin.
func NewGemini() Plugin {
	return &geminiPlugin{}
}

func (p *geminiPlugin) ID() string          { return "gemini" }
func (p *geminiPlugin) Command() string     { return "gemini" }
func (p *geminiPlugin) Description() string { return "Google Gemini CLI" }

func (p *geminiPlugin) NewToken() string {
	return ""
}

func (p *geminiPlugin) CheckToken(token string) error {
	// Any string resumes, including "" for the most recent conversation.
	return nil
}

func (p *geminiPlugin) BuildArgs(token, prompt string, mode Mode) []string {
	args := []string{
		"--output-format", "stream-json",
		"--yolo",
	}
	if mode.Resume() {
		args = append(args, "--resume", geminiResumeRef(token))
	}
	if !mode.Interactive() {
		args = append(args, "--prompt", prompt)
	}
	return args
}

func geminiResumeRef(token string) string {
	if token == "" {
		return "latest"
	}
	return token
}

// geminiEvent is one line of gemini's stream-json stdout.
type geminiEvent struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Message string `json:"message"`
}

func (p *geminiPlugin) ParseLine(line []byte) (types.Chunk, bool) {
	var ev geminiEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return types.Chunk{}, false
	}

	switch ev.Type {
	case "message":
		if ev.Role == "assistant" && ev.Content != "" {
			return types.Chunk{Content: ev.Content}, true
		}

	case "result":
		return types.Chunk{Done: true}, true

	case "error":
		detail := ev.Message
		if detail == "" {
			detail = "backend reported an error"
		}
		return types.Chunk{Content: "error: " + detail}, true
	}

	return types.Chunk{}, false
}

func (p *geminiPlugin) EncodeInput(text string) []byte {
	return []byte(text + "\n")
}
