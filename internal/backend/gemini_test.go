package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_Identity(t *testing.T) {
	p := NewGemini()
	assert.Equal(t, "gemini", p.ID())
	assert.Equal(t, "gemini", p.Command())
}

func TestGemini_TokensAreUnconstrained(t *testing.T) {
	p := NewGemini()

	assert.Empty(t, p.NewToken(), "gemini cannot pre-assign conversation ids")
	assert.NoError(t, p.CheckToken(""))
	assert.NoError(t, p.CheckToken("latest"))
	assert.NoError(t, p.CheckToken("any-string-at-all"))
}

func TestGemini_BuildArgsHeadless(t *testing.T) {
	p := NewGemini()

	args := p.BuildArgs("", "test prompt", ModeHeadless)

	assert.Equal(t, []string{"--output-format", "stream-json", "--yolo", "--prompt", "test prompt"}, args)
}

func TestGemini_BuildArgsResume(t *testing.T) {
	p := NewGemini()

	args := p.BuildArgs("", "again", ModeHeadlessResume)
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "latest", "empty token resumes the most recent conversation")

	args = p.BuildArgs("my-session", "again", ModeHeadlessResume)
	assert.Contains(t, args, "my-session")
	assert.NotContains(t, args, "latest")
}

func TestGemini_BuildArgsInteractive(t *testing.T) {
	p := NewGemini()

	args := p.BuildArgs("", "", ModeInteractiveFresh)
	assert.NotContains(t, args, "--prompt", "interactive prompts travel over stdin")

	args = p.BuildArgs("tok", "", ModeInteractiveResume)
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "tok")
}

func TestGemini_ParseAssistantMessage(t *testing.T) {
	p := NewGemini()

	chunk, ok := p.ParseLine([]byte(`{"type":"message","role":"assistant","content":"Hello, world!"}`))
	require.True(t, ok)
	assert.Equal(t, "Hello, world!", chunk.Content)
	assert.False(t, chunk.Done)

	// Echoed user messages are not renderable output.
	_, ok = p.ParseLine([]byte(`{"type":"message","role":"user","content":"hi"}`))
	assert.False(t, ok)
}

func TestGemini_ParseResult(t *testing.T) {
	p := NewGemini()

	chunk, ok := p.ParseLine([]byte(`{"type":"result"}`))
	require.True(t, ok)
	assert.True(t, chunk.Done)
	assert.Empty(t, chunk.Content)
}

func TestGemini_ParseError(t *testing.T) {
	p := NewGemini()

	chunk, ok := p.ParseLine([]byte(`{"type":"error","message":"quota exceeded"}`))
	require.True(t, ok)
	assert.False(t, chunk.Done, "an error line does not end the turn by itself")
	assert.Contains(t, chunk.Content, "quota exceeded")
}

func TestGemini_ParseSkipsNoise(t *testing.T) {
	p := NewGemini()

	for _, line := range []string{
		`{"type":"thinking"}`,
		`garbage`,
		`{"type":"message","role":"assistant"`,
		``,
	} {
		_, ok := p.ParseLine([]byte(line))
		assert.False(t, ok, "line should be skipped: %q", line)
	}
}

func TestGemini_EncodeInput(t *testing.T) {
	p := NewGemini()
	assert.Equal(t, []byte("run the tests\n"), p.EncodeInput("run the tests"))
}
