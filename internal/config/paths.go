package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataRoot returns the bp6 data root, ~/.bp6 unless overridden by
// BP6_DATA_DIR.
func DataRoot() string {
	if dir := os.Getenv("BP6_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.Getenv("HOME"), ".bp6")
}

// Paths contains the standard paths for bp6 data.
type Paths struct {
	Root     string // data root, ~/.bp6
	Sessions string // per-task session logs
	Logs     string // application logs
	Storage  string // JSON document store (resume index)
	Personas string // persona templates
	Config   string // ~/.config/bp6
}

// GetPaths returns the standard paths for bp6 data.
func GetPaths() *Paths {
	return PathsAt(DataRoot())
}

// PathsAt returns the standard paths rooted at the given data directory.
func PathsAt(root string) *Paths {
	return &Paths{
		Root:     root,
		Sessions: filepath.Join(root, "sessions"),
		Logs:     filepath.Join(root, "logs"),
		Storage:  filepath.Join(root, "storage"),
		Personas: filepath.Join(root, "personas"),
		Config:   filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "bp6"),
	}
}

// EnsurePaths creates all required data directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Root, p.Sessions, p.Logs, p.Storage, p.Personas} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// TaskFeedPath returns the default task feed file location.
func (p *Paths) TaskFeedPath() string {
	return filepath.Join(p.Root, "tasks.jsonl")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}
