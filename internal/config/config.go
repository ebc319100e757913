// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for localcursor.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - path given on the command line
//   - ~/.localcursor/config.toml
//   - ~/.localcursor/config.json
//   - Built-in defaults
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"encoding/json"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete localcursor configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server"`
	Workspace WorkspaceConfig `toml:"workspace" json:"workspace"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Upstream  UpstreamConfig  `toml:"upstream" json:"upstream"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	// Host is the listen address. Defaults to loopback; this is a local
	// gateway, not an internet-facing service.
	Host string `toml:"host" json:"host"`
	// Port is the listen port.
	Port int `toml:"port" json:"port"`
	// AllowedOrigins are the CORS origins permitted to call the API.
	// Empty means allow any origin.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimitPerMin caps requests per client per minute. 0 disables
	// rate limiting.
	RateLimitPerMin int `toml:"rate_limit_per_min" json:"rate_limit_per_min"`
}

// WorkspaceConfig locates the sandboxed workspace directory.
type WorkspaceConfig struct {
	// Root is the workspace directory. Created on startup if missing.
	Root string `toml:"root" json:"root"`
}

// StorageConfig locates the persisted state files.
type StorageConfig struct {
	// DataDir holds settings.json and history.json.
	DataDir string `toml:"data_dir" json:"data_dir"`
}

// UpstreamConfig bounds calls to the model backends.
type UpstreamConfig struct {
	// ConnectTimeoutSecs bounds the upstream dial.
	ConnectTimeoutSecs int `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
	// ReadTimeoutSecs bounds the gap between stream frames. Generation is
	// slow on local hardware, so this defaults to minutes.
	ReadTimeoutSecs int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	// ListTimeoutSecs bounds a model-listing round trip.
	ListTimeoutSecs int `toml:"list_timeout_secs" json:"list_timeout_secs"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			AllowedOrigins:  nil,
			RateLimitPerMin: 0,
		},
		Workspace: WorkspaceConfig{
			Root: "workspace",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Upstream: UpstreamConfig{
			ConnectTimeoutSecs: 5,
			ReadTimeoutSecs:    300,
			ListTimeoutSecs:    20,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".localcursor")
}

// ConfigDir returns the localcursor configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".localcursor"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config file locations.
// Tries TOML first, then JSON, and falls back to defaults. Environment
// overrides are applied last.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return finalize(Default())
	}

	for _, name := range []string{"config.toml", "config.json"} {
		path := filepath.Join(dir, name)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		return LoadFromPath(path)
	}

	return finalize(Default())
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by file extension; anything that is not
// .json is decoded as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	return finalize(cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills zero values with defaults. Decoded config files only
// override what they mention.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = defaults.Workspace.Root
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = defaults.Storage.DataDir
	}
	if c.Upstream.ConnectTimeoutSecs == 0 {
		c.Upstream.ConnectTimeoutSecs = defaults.Upstream.ConnectTimeoutSecs
	}
	if c.Upstream.ReadTimeoutSecs == 0 {
		c.Upstream.ReadTimeoutSecs = defaults.Upstream.ReadTimeoutSecs
	}
	if c.Upstream.ListTimeoutSecs == 0 {
		c.Upstream.ListTimeoutSecs = defaults.Upstream.ListTimeoutSecs
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}

	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_min",
			Message: "must be non-negative",
		})
	}

	for _, origin := range c.Server.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if _, err := url.Parse(origin); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.allowed_origins",
				Message: fmt.Sprintf("invalid origin %q: %v", origin, err),
			})
		}
	}

	if c.Upstream.ConnectTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "upstream.connect_timeout_secs",
			Message: "must be at least 1",
		})
	}
	if c.Upstream.ReadTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "upstream.read_timeout_secs",
			Message: "must be at least 1",
		})
	}
	if c.Upstream.ListTimeoutSecs < 1 {
		errs = append(errs, ValidationError{
			Field:   "upstream.list_timeout_secs",
			Message: "must be at least 1",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LOCALCURSOR_HOST: overrides server.host
//   - LOCALCURSOR_PORT: overrides server.port
//   - LOCALCURSOR_WORKSPACE: overrides workspace.root
//   - LOCALCURSOR_DATA_DIR: overrides storage.data_dir
//   - LOCALCURSOR_RATE_LIMIT: overrides server.rate_limit_per_min
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("LOCALCURSOR_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("LOCALCURSOR_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		}
	}
	if root := os.Getenv("LOCALCURSOR_WORKSPACE"); root != "" {
		c.Workspace.Root = root
	}
	if dir := os.Getenv("LOCALCURSOR_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if limit := os.Getenv("LOCALCURSOR_RATE_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			c.Server.RateLimitPerMin = n
		}
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ListenAddr returns the host:port address to bind.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SettingsPath returns the settings document location.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Storage.DataDir, "settings.json")
}

// HistoryPath returns the history log location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Storage.DataDir, "history.json")
}

// ConnectTimeout returns the upstream dial timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Upstream.ConnectTimeoutSecs) * time.Second
}

// ReadTimeout returns the upstream read timeout as a duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Upstream.ReadTimeoutSecs) * time.Second
}

// ListTimeout returns the model-listing timeout as a duration.
func (c *Config) ListTimeout() time.Duration {
	return time.Duration(c.Upstream.ListTimeoutSecs) * time.Second
}
