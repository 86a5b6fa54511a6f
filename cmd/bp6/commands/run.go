package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/grant-traynor/bp6-sub001/internal/headless"
)

var (
	runPrompt  string
	runStdin   bool
	runFiles   []string
	runTaskRef string
	runPersona string
	runBackend string
	runQueue   []string
	runFormat  string
	runTimeout string
	runQuiet   bool
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Run one agent session to completion",
	Long: `Run a single agent session headlessly and stream its output to the
terminal. The session resumes the backend conversation when the same
task and persona were run before.

Examples:
  # One turn against the default backend
  bp6 run "Summarize the failing tests"

  # Tie the run to a task so later runs resume the conversation
  bp6 run -t T-142 "Implement the retry logic"

  # Queue follow-up turns, executed strictly in order
  bp6 run -t T-142 "Write the parser" --queue "Now add tests" --queue "Update the docs"

  # Prompt from stdin, JSON result for scripting
  git diff | bp6 run --stdin "Review this change" -o json

  # JSONL event stream for programmatic consumers
  bp6 run "Fix the race" -o jsonl | jq -r .type`,
	RunE: runHeadless,
}

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "Prompt for the first turn")
	runCmd.Flags().BoolVar(&runStdin, "stdin", false, "Read the prompt from stdin")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) appended to the prompt")

	runCmd.Flags().StringVarP(&runTaskRef, "task", "t", "", "Task reference the session belongs to")
	runCmd.Flags().StringVar(&runPersona, "persona", "", "Persona for the session")
	runCmd.Flags().StringVarP(&runBackend, "backend", "b", "", "Agent backend (claude, gemini)")
	runCmd.Flags().StringArrayVar(&runQueue, "queue", nil, "Prompt(s) queued after the first turn")

	runCmd.Flags().StringVarP(&runFormat, "output-format", "o", "text", "Output format: text, json, jsonl")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Only print agent text")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Include stderr lines and turn markers")

	runCmd.Flags().StringVar(&runTimeout, "timeout", "30m", "Maximum run time (e.g. 90s, 5m, 1h)")
}

func runHeadless(cmd *cobra.Command, args []string) error {
	timeout, err := time.ParseDuration(runTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	var format headless.OutputFormat
	switch strings.ToLower(runFormat) {
	case "text":
		format = headless.OutputText
	case "json":
		format = headless.OutputJSON
	case "jsonl":
		format = headless.OutputJSONL
	default:
		return fmt.Errorf("invalid output format %q (must be text, json, or jsonl)", runFormat)
	}

	prompt := runPrompt
	if prompt == "" && len(args) > 0 {
		prompt = strings.Join(args, " ")
	}
	if prompt == "" && !runStdin && len(runQueue) == 0 {
		return fmt.Errorf("prompt required: pass it as an argument or via --prompt, --stdin, or --queue")
	}

	// Agent text goes to stdout; keep the logger quiet unless asked.
	setupLogging(nil, "warn")

	runner := headless.NewRunner(&headless.Config{
		Prompt:       prompt,
		Queue:        runQueue,
		TaskRef:      runTaskRef,
		Persona:      runPersona,
		Backend:      runBackend,
		OutputFormat: format,
		Timeout:      timeout,
		ReadStdin:    runStdin,
		Files:        runFiles,
		Quiet:        runQuiet,
		Verbose:      runVerbose,
	})

	result, runErr := runner.Run(cmd.Context(), os.Stdout)
	if result != nil {
		os.Exit(int(result.ExitCode))
	}
	return runErr
}
