package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/sessionlog"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

var (
	logsJSON    bool
	logsVerbose bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect session transcripts",
	Long: `List, replay, and compare the per-session JSONL transcripts recorded
under the data root. Transcripts are grouped by task reference, so the
history of a task spans every session that worked on it.`,
}

var logsListCmd = &cobra.Command{
	Use:   "list [taskRef]",
	Short: "List recorded transcripts, optionally for one task",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogsList,
}

var logsShowCmd = &cobra.Command{
	Use:   "show <session-id|file>",
	Short: "Replay one session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsShow,
}

var logsDiffCmd = &cobra.Command{
	Use:   "diff <session-id|file> <session-id|file>",
	Short: "Compare two transcripts",
	Long: `Compare the flattened text of two transcripts line by line and print
a patch. Useful for seeing how two sessions on the same task diverged.`,
	Args: cobra.ExactArgs(2),
	RunE: runLogsDiff,
}

func init() {
	logsShowCmd.Flags().BoolVar(&logsJSON, "json", false, "Emit raw JSONL entries")
	logsShowCmd.Flags().BoolVarP(&logsVerbose, "verbose", "v", false, "Include persona context and turn markers")

	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsDiffCmd)
}

// sessionsRoot resolves the transcript root from the loaded config.
func sessionsRoot() string {
	appConfig, err := config.Load()
	if err != nil || appConfig == nil {
		return config.GetPaths().Sessions
	}
	return config.PathsAt(appConfig.DataDir).Sessions
}

func runLogsList(cmd *cobra.Command, args []string) error {
	root := sessionsRoot()

	var (
		files []string
		err   error
	)
	if len(args) > 0 {
		files, err = sessionlog.FindTask(root, args[0])
	} else {
		files, err = sessionlog.FindAll(root)
	}
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No transcripts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSESSION\tSTARTED\tFILE")
	for _, file := range files {
		id, started := parseLogName(file)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", filepath.Base(filepath.Dir(file)), id, started, file)
	}
	return w.Flush()
}

// parseLogName splits a transcript file name into session ID and start
// time. Files are named <sessionID>-<unixSeconds>.jsonl.
func parseLogName(path string) (id, started string) {
	base := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	i := strings.LastIndex(base, "-")
	if i < 0 {
		return base, "-"
	}
	unix, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil {
		return base, "-"
	}
	return base[:i], time.Unix(unix, 0).Format(time.RFC3339)
}

func runLogsShow(cmd *cobra.Command, args []string) error {
	files, err := resolveTranscripts(args[0])
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := printTranscript(file); err != nil {
			return err
		}
	}
	return nil
}

// resolveTranscripts accepts either a transcript file path or a session
// ID. A session can have several files when it was run more than once
// under the same ID; they are returned oldest first.
func resolveTranscripts(ref string) ([]string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return []string{ref}, nil
	}
	files, err := sessionlog.Find(sessionsRoot(), ref)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no transcript found for %q", ref)
	}
	return files, nil
}

func printTranscript(path string) error {
	return sessionlog.Replay(path, func(e types.LogEntry) error {
		if logsJSON {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		ts := time.UnixMilli(e.Time).Format("15:04:05")
		switch e.Event {
		case types.LogSessionStart:
			task := e.TaskRef
			if task == "" {
				task = "-"
			}
			fmt.Printf("=== %s session %s  task=%s persona=%s backend=%s\n", ts, e.SessionID, task, e.Persona, e.Backend)
			if logsVerbose && e.Content != "" {
				fmt.Println(e.Content)
			}
		case types.LogMessage:
			fmt.Printf("%s [user] %s\n", ts, e.Content)
		case types.LogChunk:
			if e.Content != "" {
				fmt.Printf("%s %s\n", ts, e.Content)
			}
		case types.LogSessionEnd:
			if e.Content != "" {
				fmt.Printf("%s %s\n", ts, e.Content)
			}
			if logsVerbose {
				fmt.Printf("=== %s turn complete\n", ts)
			}
		}
		return nil
	})
}

func runLogsDiff(cmd *cobra.Command, args []string) error {
	before, err := transcriptText(args[0])
	if err != nil {
		return err
	}
	after, err := transcriptText(args[1])
	if err != nil {
		return err
	}
	if before == after {
		fmt.Println("Transcripts are identical.")
		return nil
	}

	// Line-mode diff: collapse lines to runes, diff those, then expand.
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	fmt.Printf("--- %s\n+++ %s\n", args[0], args[1])
	patches := dmp.PatchMake(before, diffs)
	fmt.Print(dmp.PatchToText(patches))
	fmt.Printf("%d insertion(s), %d deletion(s)\n", additions, deletions)
	return nil
}

// transcriptText flattens replayed entries into comparable text, one
// line per user message and agent chunk.
func transcriptText(ref string) (string, error) {
	files, err := resolveTranscripts(ref)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, file := range files {
		err := sessionlog.Replay(file, func(e types.LogEntry) error {
			switch e.Event {
			case types.LogMessage:
				fmt.Fprintf(&b, "user: %s\n", e.Content)
			case types.LogChunk, types.LogSessionEnd:
				if e.Content != "" {
					fmt.Fprintf(&b, "agent: %s\n", e.Content)
				}
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
