// Package task reads the external task feed, a newline-delimited JSON
// file maintained by an outside tracker, and watches it for changes so
// UIs can re-list without polling.
package task

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// feedReadRetries bounds re-reads of a feed that looks mid-rewrite.
// The tracker daemon deletes and recreates the file, so an empty or
// unparseable feed is usually a torn write that settles within a few
// tens of milliseconds.
const feedReadRetries = 4

// errFeedSettling marks a read that should be retried: the file exists
// but its content is not a complete feed yet.
var errFeedSettling = errors.New("task feed settling")

// Feed reads tasks from a JSONL file, one task object per line.
type Feed struct {
	path string
}

// NewFeed creates a feed reader for the given file path.
func NewFeed(path string) *Feed {
	return &Feed{path: path}
}

// FeedPath resolves the task feed location: the configured path when
// set, otherwise tasks.jsonl under the data root.
func FeedPath(cfg *types.Config) string {
	if cfg != nil && cfg.Tasks != nil && cfg.Tasks.Path != "" {
		return cfg.Tasks.Path
	}
	root := config.DataRoot()
	if cfg != nil && cfg.DataDir != "" {
		root = cfg.DataDir
	}
	return config.PathsAt(root).TaskFeedPath()
}

// Path returns the feed file path.
func (f *Feed) Path() string {
	return f.path
}

// Read returns all tasks in the feed. A missing feed file is not an
// error; it yields an empty list. Reads retry briefly when the file is
// empty or unparseable, which covers the tracker rewriting it in place.
func (f *Feed) Read() ([]types.Task, error) {
	if _, err := os.Stat(f.path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat task feed: %w", err)
	}

	var tasks []types.Task
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 0

	op := func() error {
		data, err := os.ReadFile(f.path)
		if err != nil {
			if os.IsNotExist(err) {
				// Deleted between attempts; the recreate lands shortly.
				return errFeedSettling
			}
			return backoff.Permanent(err)
		}
		if len(data) == 0 {
			return errFeedSettling
		}
		list, err := parseTasks(data)
		if err != nil {
			return err
		}
		tasks = list
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(bo, feedReadRetries))
	if err != nil {
		if errors.Is(err, errFeedSettling) {
			// Still empty after the retries: a feed with no tasks.
			return nil, nil
		}
		return nil, fmt.Errorf("read task feed %s: %w", f.path, err)
	}
	return tasks, nil
}

// parseTasks decodes one task object per non-blank line.
func parseTasks(data []byte) ([]types.Task, error) {
	var tasks []types.Task
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var t types.Task
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("parse task at line %d: %w", lineNo, err)
		}
		tasks = append(tasks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}
