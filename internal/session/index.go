package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/storage"
)

// indexTTL is how long a resume entry stays usable without activity.
const indexTTL = 30 * 24 * time.Hour

// Index maps a task/persona pair to the most recent conversation token,
// so a new session for the same work continues the backend-side
// conversation instead of starting cold. Entries survive session
// termination; that is the whole point.
type Index struct {
	store *storage.Storage
}

// Entry is one resume index record.
type Entry struct {
	SessionID  string `json:"sessionID"`
	Token      string `json:"token"`
	Backend    string `json:"backend"`
	LastActive int64  `json:"lastActive"`
}

// NewIndex creates a resume index backed by the given store.
func NewIndex(store *storage.Storage) *Index {
	return &Index{store: store}
}

// Lookup returns the live entry for the task/persona pair. Expired
// entries are deleted on sight and reported as absent.
func (ix *Index) Lookup(ctx context.Context, taskRef, personaID string) (Entry, bool) {
	var ent Entry
	key := indexKey(taskRef, personaID)
	if err := ix.store.Get(ctx, []string{"resume", key}, &ent); err != nil {
		return Entry{}, false
	}
	if expired(ent.LastActive) {
		_ = ix.store.Delete(ctx, []string{"resume", key})
		return Entry{}, false
	}
	return ent, true
}

// Record writes the entry for the task/persona pair, replacing any
// previous one.
func (ix *Index) Record(ctx context.Context, taskRef, personaID string, ent Entry) error {
	return ix.store.Put(ctx, []string{"resume", indexKey(taskRef, personaID)}, ent)
}

// Forget drops the entry for the task/persona pair. Absent entries are
// not an error.
func (ix *Index) Forget(ctx context.Context, taskRef, personaID string) error {
	return ix.store.Delete(ctx, []string{"resume", indexKey(taskRef, personaID)})
}

// Prune sweeps all entries and deletes the expired ones, returning how
// many were removed.
func (ix *Index) Prune(ctx context.Context) (int, error) {
	type stale struct{ key string }
	var expiredKeys []stale

	err := ix.store.Scan(ctx, []string{"resume"}, func(key string, data json.RawMessage) error {
		var ent Entry
		if jsonErr := json.Unmarshal(data, &ent); jsonErr != nil {
			// Unreadable entries are dead weight too.
			expiredKeys = append(expiredKeys, stale{key})
			return nil
		}
		if expired(ent.LastActive) {
			expiredKeys = append(expiredKeys, stale{key})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range expiredKeys {
		if err := ix.store.Delete(ctx, []string{"resume", e.key}); err == nil {
			removed++
		}
	}
	return removed, nil
}

// indexKey builds the storage key for a task/persona pair. Untracked
// sessions share the "untracked" bucket per persona.
func indexKey(taskRef, personaID string) string {
	ref := taskRef
	if ref == "" {
		ref = "untracked"
	}
	return safeKeySegment(ref) + ":" + safeKeySegment(personaID)
}

// safeKeySegment makes a reference usable as a single filename segment.
func safeKeySegment(ref string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	out := r.Replace(ref)
	if out == "" {
		out = "_"
	}
	return out
}

func expired(lastActive int64) bool {
	return time.Since(time.UnixMilli(lastActive)) > indexTTL
}
