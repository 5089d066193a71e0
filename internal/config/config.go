// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/sessiongate/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sessiongate configuration.
type Config struct {
	// API configures the remote student-records service.
	API APIConfig `toml:"api" json:"api"`

	// Credentials selects where the bearer token is persisted.
	Credentials CredentialsConfig `toml:"credentials" json:"credentials"`

	// Log configures structured logging.
	Log LogConfig `toml:"log" json:"log"`

	// UI configures the terminal interface.
	UI UIConfig `toml:"ui" json:"ui"`
}

// APIConfig contains remote service configuration.
type APIConfig struct {
	// BaseURL is the service root including the /api prefix.
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs bounds each request.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// RequestsPerSecond throttles outbound requests (0 = unlimited).
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	// Burst is the limiter bucket size.
	Burst int `toml:"burst" json:"burst"`
	// MaxResponseBytes caps response bodies read by the gateway.
	MaxResponseBytes int64 `toml:"max_response_bytes" json:"max_response_bytes"`
}

// CredentialsConfig contains credential store configuration.
type CredentialsConfig struct {
	// Backend is one of: file, sqlite, redis, memory.
	Backend string `toml:"backend" json:"backend"`
	// Path is the token file for the file backend (empty = ~/.sessiongate/token).
	Path string `toml:"path" json:"path"`
	// SQLitePath is the database for the sqlite backend.
	SQLitePath string `toml:"sqlite_path" json:"sqlite_path"`
	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string `toml:"redis_url" json:"redis_url"`
	// RedisPrefix namespaces the token key.
	RedisPrefix string `toml:"redis_prefix" json:"redis_prefix"`
	// Watch follows the token file for sign-outs made by other processes.
	Watch bool `toml:"watch" json:"watch"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// Path is the TUI log file (empty = ~/.sessiongate/sessiongate.log).
	Path string `toml:"path" json:"path"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is "dark", "light" or "auto".
	Theme string `toml:"theme" json:"theme"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// DefaultBaseURL is the local development service.
const DefaultBaseURL = "http://localhost:5000/api"

// Default returns a new Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           DefaultBaseURL,
			TimeoutSecs:       30,
			RequestsPerSecond: 10,
			Burst:             5,
			MaxResponseBytes:  10 * 1024 * 1024,
		},
		Credentials: CredentialsConfig{
			Backend:     "file",
			RedisPrefix: "sessiongate:",
			Watch:       true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the sessiongate configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sessiongate"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultLogPath returns the TUI log file path.
func DefaultLogPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessiongate.log"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: the config may carry a redis URL with a password.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the configuration at path, or ~/.sessiongate/config.toml when
// path is empty. A missing file yields the defaults. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return finish(Default())
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes path over cfg and fills any zeroed fields from defaults.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return ValidationError{Field: keys[0], Message: "unknown key (" + strings.Join(keys, ", ") + ")"}
	}
	fillDefaults(cfg)
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.TimeoutSecs == 0 {
		cfg.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = defaults.API.Burst
	}
	if cfg.API.MaxResponseBytes == 0 {
		cfg.API.MaxResponseBytes = defaults.API.MaxResponseBytes
	}

	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = defaults.Credentials.Backend
	}
	if cfg.Credentials.RedisPrefix == "" {
		cfg.Credentials.RedisPrefix = defaults.Credentials.RedisPrefix
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML saves the configuration to a TOML file.
// SECURITY: 0600 file in a 0700 directory.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# sessiongate configuration file\n")
	buf.WriteString("# Generated by sessiongate - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

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
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors as ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// ==========================================================================
	// API
	// ==========================================================================

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[/path]", c.API.BaseURL),
		})
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "api.timeout_secs",
			Message: fmt.Sprintf("must be between 1 and 600, got %d", c.API.TimeoutSecs),
		})
	}
	if c.API.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "api.requests_per_second",
			Message: "must not be negative",
		})
	}
	if c.API.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "api.burst",
			Message: fmt.Sprintf("must be at least 1, got %d", c.API.Burst),
		})
	}
	if c.API.MaxResponseBytes < 1024 {
		errs = append(errs, ValidationError{
			Field:   "api.max_response_bytes",
			Message: fmt.Sprintf("must be at least 1024, got %d", c.API.MaxResponseBytes),
		})
	}

	// ==========================================================================
	// Credentials
	// ==========================================================================

	switch strings.ToLower(c.Credentials.Backend) {
	case "file", "sqlite", "memory":
	case "redis":
		if c.Credentials.RedisURL == "" {
			errs = append(errs, ValidationError{
				Field:   "credentials.redis_url",
				Message: "required when backend is redis",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "credentials.backend",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: file, sqlite, redis, memory", c.Credentials.Backend),
		})
	}

	// ==========================================================================
	// Log / UI
	// ==========================================================================

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be text or json", c.Log.Format),
		})
	}
	switch strings.ToLower(c.UI.Theme) {
	case "dark", "light", "auto":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
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
//   - SESSIONGATE_API_URL: overrides api.base_url
//   - SESSIONGATE_CREDENTIAL_BACKEND: overrides credentials.backend
//   - SESSIONGATE_CREDENTIAL_PATH: overrides credentials.path
//   - SESSIONGATE_REDIS_URL: overrides credentials.redis_url
//   - SESSIONGATE_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SESSIONGATE_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("SESSIONGATE_CREDENTIAL_BACKEND"); v != "" {
		c.Credentials.Backend = v
	}
	if v := os.Getenv("SESSIONGATE_CREDENTIAL_PATH"); v != "" {
		c.Credentials.Path = v
	}
	if v := os.Getenv("SESSIONGATE_REDIS_URL"); v != "" {
		c.Credentials.RedisURL = v
	}
	if v := os.Getenv("SESSIONGATE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// GET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its TOML key path (e.g. "api.base_url").
func (c *Config) Get(key string) (interface{}, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if key == "credentials.redis_url" {
				return redactURL(c.Credentials.RedisURL), nil
			}
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

// Keys returns every leaf configuration key in dot notation, sorted.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + tagName(f)
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	sort.Strings(keys)
	return keys
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tagName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func tagName(f reflect.StructField) string {
	tag := f.Tag.Get("toml")
	if idx := strings.IndexByte(tag, ','); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	return tag
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy of the config. Config holds only value fields.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a JSON rendering of the config for display.
// SECURITY: Redacts the password in the redis URL.
func (c *Config) String() string {
	safe := c.Clone()
	safe.Credentials.RedisURL = redactURL(safe.Credentials.RedisURL)

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	return u.Redacted()
}
