package task

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/grant-traynor/bp6-sub001/internal/event"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
)

// Watcher watches the task feed file and publishes task.list-changed
// when its content changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	feed     *Feed
	checksum uint64
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.RWMutex
}

// NewWatcher creates a watcher for the feed's file. Returns nil if the
// feed's directory does not exist; the feature is optional and a data
// root without a tracker simply has no feed to watch.
func NewWatcher(feed *Feed) (*Watcher, error) {
	dir := filepath.Dir(feed.Path())
	if _, err := os.Stat(dir); err != nil {
		logging.Debug().Str("dir", dir).Msg("task feed directory missing, watcher disabled")
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: the tracker daemon deletes and
	// recreates the feed, which breaks a direct file watch.
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	logging.Info().Str("path", feed.Path()).Msg("task feed watcher initialized")

	return &Watcher{
		watcher:  w,
		feed:     feed,
		checksum: hashFile(feed.Path()),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for feed changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.feed.Path()) {
				continue
			}
			if ev.Op&fsnotify.Remove != 0 {
				// Reset so the recreate publishes even if the content
				// comes back identical.
				w.mu.Lock()
				w.checksum = 0
				w.mu.Unlock()
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.checkFeedChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("task watcher error")
		}
	}
}

func (w *Watcher) checkFeedChange() {
	data, err := os.ReadFile(w.feed.Path())
	if err != nil || len(data) == 0 {
		// Mid-recreate; a later event retriggers this check once the
		// content lands.
		return
	}

	sum := hashBytes(data)
	w.mu.RLock()
	same := sum == w.checksum
	w.mu.RUnlock()
	if same {
		return
	}

	tasks, err := parseTasks(data)
	if err != nil {
		// Torn write; the completing write event retriggers with the
		// checksum still unchanged.
		logging.Debug().Err(err).Msg("task feed unparseable, skipping")
		return
	}

	w.mu.Lock()
	w.checksum = sum
	w.mu.Unlock()

	logging.Debug().Int("tasks", len(tasks)).Msg("task feed changed")
	event.PublishSync(event.Event{
		Type: event.TaskListChanged,
		Data: event.TaskListChangedData{Tasks: tasks},
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
		// Already stopped
	default:
		close(w.stopCh)
	}

	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}

func hashFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return hashBytes(data)
}

func hashBytes(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
