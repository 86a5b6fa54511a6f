package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
	"github.com/tidwall/jsonc"
)

// Load loads configuration from multiple sources (priority order):
// 1. Data-root config (~/.bp6/)
// 2. XDG global config (~/.config/bp6/)
// 3. BP6_CONFIG file
// 4. BP6_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load() (*types.Config, error) {
	config := &types.Config{
		Backend: make(map[string]types.BackendConfig),
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Data-root config (~/.bp6/)
	root := DataRoot()
	loadOnce(filepath.Join(root, "config.json"), root)
	loadOnce(filepath.Join(root, "config.jsonc"), root)

	// 2. XDG global config (~/.config/bp6/)
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "bp6.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "bp6.jsonc"), globalPath)

	// 3. BP6_CONFIG file override
	if configPath := os.Getenv("BP6_CONFIG"); configPath != "" {
		configDir := filepath.Dir(configPath)
		loadOnce(configPath, configDir)
	}

	// 4. BP6_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("BP6_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	applyDefaults(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.DefaultBackend != "" {
		target.DefaultBackend = source.DefaultBackend
	}
	if source.DefaultPersona != "" {
		target.DefaultPersona = source.DefaultPersona
	}

	// Merge backend overrides
	if source.Backend != nil {
		if target.Backend == nil {
			target.Backend = make(map[string]types.BackendConfig)
		}
		for k, v := range source.Backend {
			target.Backend[k] = v
		}
	}

	if source.Server != nil {
		target.Server = source.Server
	}
	if source.Persona != nil {
		target.Persona = source.Persona
	}
	if source.Tasks != nil {
		target.Tasks = source.Tasks
	}
	if source.Session != nil {
		target.Session = source.Session
	}
	if source.Log != nil {
		target.Log = source.Log
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if dir := os.Getenv("BP6_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if backend := os.Getenv("BP6_DEFAULT_BACKEND"); backend != "" {
		config.DefaultBackend = backend
	}
	if level := os.Getenv("BP6_LOG_LEVEL"); level != "" {
		if config.Log == nil {
			config.Log = &types.LogConfig{}
		}
		config.Log.Level = level
	}
}

// applyDefaults fills unset fields with working defaults.
func applyDefaults(config *types.Config) {
	if config.DataDir == "" {
		config.DataDir = DataRoot()
	}
	if config.DefaultBackend == "" {
		config.DefaultBackend = "claude"
	}
	if config.DefaultPersona == "" {
		config.DefaultPersona = "specialist"
	}
	if config.Server == nil {
		config.Server = &types.ServerConfig{}
	}
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Session == nil {
		config.Session = &types.SessionConfig{}
	}
	if config.Session.QueueRetries == 0 {
		config.Session.QueueRetries = 3
	}
	if config.Session.TermGraceMS == 0 {
		config.Session.TermGraceMS = 200
	}
	if config.Log == nil {
		config.Log = &types.LogConfig{Level: "info"}
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
