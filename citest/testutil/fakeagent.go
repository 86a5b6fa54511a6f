package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentScenario scripts the fake agent CLI the test server installs in
// place of the real claude binary. Rules are checked in order against
// the prompt; the first match wins. The generated script speaks the
// claude stream-json protocol on stdout, so the real backend plugin
// parses it unchanged.
type AgentScenario struct {
	Rules    []AgentRule `yaml:"rules"`
	Fallback AgentRule   `yaml:"fallback"`

	// InteractiveReply is streamed for every stdin message once the
	// session runs in duplex mode.
	InteractiveReply string `yaml:"interactive_reply"`
}

// AgentRule maps a prompt to scripted agent behavior. Match is a
// substring of the prompt; an empty Match only makes sense on the
// fallback. Chunk and reply text must not contain characters that need
// JSON escaping.
type AgentRule struct {
	Name     string   `yaml:"name"`
	Match    string   `yaml:"match"`
	Chunks   []string `yaml:"chunks"`
	Error    string   `yaml:"error"`    // result frame reports is_error with this text
	Stderr   string   `yaml:"stderr"`   // one diagnostic line before output
	SleepMS  int      `yaml:"sleep_ms"` // delay before the first chunk
	ExitCode int      `yaml:"exit_code"`
}

// DefaultAgentScenario covers the behaviors the suite exercises: a
// normal streaming turn, a slow turn for interrupt tests, and a
// crashing turn for failure paths.
func DefaultAgentScenario() *AgentScenario {
	return &AgentScenario{
		Rules: []AgentRule{
			{
				Name:    "slow-turn",
				Match:   "take your time",
				Chunks:  []string{"finally done"},
				SleepMS: 5000,
			},
			{
				Name:     "crash",
				Match:    "please explode",
				Stderr:   "agent blew up",
				Error:    "internal agent failure",
				ExitCode: 1,
			},
			{
				Name:   "greeting",
				Match:  "hello",
				Chunks: []string{"Hello! ", "How can I help?"},
			},
		},
		Fallback:         AgentRule{Chunks: []string{"ack"}},
		InteractiveReply: "interactive ack",
	}
}

// LoadAgentScenario loads a scenario from a YAML file.
func LoadAgentScenario(path string) (*AgentScenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s AgentScenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveAgentScenario writes a scenario to a YAML file.
func SaveAgentScenario(s *AgentScenario, path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteFakeAgent renders the scenario as an executable shell script in
// dir and returns its path. Every invocation's argument list is
// appended to agent-calls.log next to the script.
func WriteFakeAgent(dir string, s *AgentScenario) (string, error) {
	path := filepath.Join(dir, "fake-claude")
	script := renderAgentScript(s, filepath.Join(dir, "agent-calls.log"))
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("write fake agent: %w", err)
	}
	return path, nil
}

// AgentCalls returns the recorded argument lists of every fake agent
// invocation, one line per spawn.
func AgentCalls(agentPath string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(agentPath), "agent-calls.log"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var calls []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line != "" {
			calls = append(calls, line)
		}
	}
	return calls, nil
}

func renderAgentScript(s *AgentScenario, callLog string) string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Scripted stand-in for an agent CLI speaking stream-json.\n\n")

	// One log line per invocation: newlines inside the prompt argument
	// are flattened so the record stays line-oriented.
	fmt.Fprintf(&b, "{ printf '%%s' \"$*\" | tr '\\n' ' '; printf '\\n'; } >> %s\n\n", shQuote(callLog))

	b.WriteString(`prompt=""
interactive=0
while [ $# -gt 0 ]; do
  case "$1" in
    -p) prompt="$2"; shift ;;
    --input-format) interactive=1; shift ;;
    --output-format|--resume|--session-id) shift ;;
  esac
  shift
done

say() {
  printf '{"type":"assistant","message":{"content":[{"type":"text","text":"%s"}]}}\n' "$1"
}
finish() {
  printf '{"type":"result","is_error":false}\n'
}
fail() {
  printf '{"type":"result","is_error":true,"result":"%s"}\n' "$1"
}

`)

	reply := s.InteractiveReply
	if reply == "" {
		reply = "ack"
	}
	fmt.Fprintf(&b, `if [ "$interactive" = 1 ]; then
  while IFS= read -r _line; do
    say %s
    finish
  done
  exit 0
fi

`, shQuote(reply))

	b.WriteString("case \"$prompt\" in\n")
	for _, rule := range s.Rules {
		if rule.Match == "" {
			continue
		}
		fmt.Fprintf(&b, "  *%s*)\n", shQuote(rule.Match))
		writeRuleBody(&b, rule)
		b.WriteString("    ;;\n")
	}
	b.WriteString("  *)\n")
	writeRuleBody(&b, s.Fallback)
	b.WriteString("    ;;\n")
	b.WriteString("esac\n")

	return b.String()
}

func writeRuleBody(b *strings.Builder, rule AgentRule) {
	if rule.SleepMS > 0 {
		fmt.Fprintf(b, "    sleep %g\n", float64(rule.SleepMS)/1000)
	}
	if rule.Stderr != "" {
		fmt.Fprintf(b, "    printf '%%s\\n' %s >&2\n", shQuote(rule.Stderr))
	}
	for _, chunk := range rule.Chunks {
		fmt.Fprintf(b, "    say %s\n", shQuote(chunk))
	}
	if rule.Error != "" {
		fmt.Fprintf(b, "    fail %s\n", shQuote(rule.Error))
	} else {
		b.WriteString("    finish\n")
	}
	if rule.ExitCode != 0 {
		fmt.Fprintf(b, "    exit %d\n", rule.ExitCode)
	}
}

// shQuote single-quotes a string for safe use in the generated script.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
