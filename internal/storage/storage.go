// Package storage is the file-backed JSON document store under the bp6
// data root. The session resume index lives here: it must survive
// restarts and crashes mid-write, and it is shared between a running
// server and one-shot CLI invocations, so every write is an atomic
// replace guarded by an OS file lock.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when no document exists at the path.
var ErrNotFound = errors.New("not found")

// Storage reads and writes JSON documents keyed by path segments: a
// path like ["resume", "task_persona"] maps to
// <root>/resume/task_persona.json. Callers own key hygiene; segments
// become filenames verbatim.
type Storage struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at the given directory. Directories are
// created lazily on first write.
func New(root string) *Storage {
	return &Storage{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// Get unmarshals the document at path into v. Returns ErrNotFound when
// no document exists there.
func (s *Storage) Get(ctx context.Context, path []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := s.file(path)
	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", file, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}
	return nil
}

// Put writes v as the document at path, replacing any previous version.
// The replace is atomic: a concurrent reader sees the old document or
// the new one, never a torn write.
func (s *Storage) Put(ctx context.Context, path []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	file := s.file(path)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	unlock, err := s.lock(file)
	if err != nil {
		return err
	}
	defer unlock()

	return replaceFile(file, data)
}

// Delete removes the document at path. Deleting an absent document is
// not an error.
func (s *Storage) Delete(ctx context.Context, path []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := s.file(path)
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}

	unlock, err := s.lock(file)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", file, err)
	}
	return nil
}

// Scan calls fn for every document directly under path, in directory
// order. Documents that disappear or cannot be read mid-scan are
// skipped; an error from fn stops the scan and is returned.
func (s *Storage) Scan(ctx context.Context, path []string, fn func(key string, data json.RawMessage) error) error {
	dir := filepath.Join(append([]string{s.root}, path...)...)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read storage dir: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) file(path []string) string {
	return filepath.Join(append([]string{s.root}, path...)...) + ".json"
}

// lock serializes access to one document: a per-file mutex against
// other goroutines, flock on a sidecar file against other bp6
// processes sharing the data root.
func (s *Storage) lock(file string) (func(), error) {
	s.mu.Lock()
	m := s.locks[file]
	if m == nil {
		m = &sync.Mutex{}
		s.locks[file] = m
	}
	s.mu.Unlock()

	m.Lock()
	release, err := lockFile(file)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	return func() {
		release()
		m.Unlock()
	}, nil
}

// replaceFile writes data to a temp file in the target's directory,
// syncs it, and renames it over the target.
func replaceFile(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replace %s: %w", target, err)
	}
	return nil
}
