// Package config provides configuration loading, merging, and path management for bp6.
//
// # Configuration Loading
//
// The Load function searches for and merges configuration from multiple
// sources in priority order:
//
//  1. Data-root config (~/.bp6/config.json or config.jsonc)
//  2. XDG global config (~/.config/bp6/bp6.json or bp6.jsonc)
//  3. BP6_CONFIG file
//  4. BP6_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// Later sources override earlier ones field-by-field; environment variables
// have the highest precedence.
//
// # Supported Formats
//
// Both JSON and JSONC (JSON with Comments) are accepted; JSONC is processed
// using tidwall/jsonc.
//
// # Variable Interpolation
//
// Configuration files support two placeholder forms:
//   - {env:VAR_NAME} - expands to environment variable values
//   - {file:path} - expands to file contents (escaped for JSON)
//
// File paths support absolute paths, paths relative to the config file's
// directory, and ~/ home expansion.
//
// Example:
//
//	{
//	  "backend": {
//	    "claude": {
//	      "command": "{env:BP6_CLAUDE_BIN}",
//	      "extraArgs": ["--model", "opus"]
//	    }
//	  }
//	}
//
// # Environment Variable Overrides
//
//   - BP6_DATA_DIR - override the data root (default ~/.bp6)
//   - BP6_DEFAULT_BACKEND - override the default backend kind
//   - BP6_LOG_LEVEL - override the log level
//   - BP6_CONFIG - path to a specific config file
//   - BP6_CONFIG_CONTENT - inline JSON configuration
//
// # Path Management
//
// The Paths type lays out the data root: sessions/ for per-task session
// logs, logs/ for application logs, storage/ for the JSON document store,
// and personas/ for persona templates. EnsurePaths creates them all.
package config
