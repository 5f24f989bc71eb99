// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete s6zchat configuration.
type Config struct {
	App     AppConfig     `toml:"app" json:"app"`
	Backend BackendConfig `toml:"backend" json:"backend"`
	Ollama  OllamaConfig  `toml:"ollama" json:"ollama"`
	OpenAI  OpenAIConfig  `toml:"openai" json:"openai"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// AppConfig contains chat behaviour settings.
type AppConfig struct {
	// GenerateTitles asks Ollama for a chat title after the first exchange.
	// When false (or on failure) the first user message is used.
	GenerateTitles bool `toml:"generate_titles" json:"generate_titles"`
	// TitleModel is the Ollama model used for titles. Empty uses the model
	// mapped to the active backend.
	TitleModel string `toml:"title_model" json:"title_model,omitempty"`
	// SystemPrompt is prepended to new chats when set.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
}

// BackendConfig selects the default backend.
type BackendConfig struct {
	// Default is "Open AI" or "Ollama".
	Default string `toml:"default" json:"default"`
}

// OllamaConfig contains local Ollama configuration.
type OllamaConfig struct {
	BaseURL     string         `toml:"base_url" json:"base_url"`
	Model       string         `toml:"model" json:"model"`
	TimeoutSecs int            `toml:"timeout_secs" json:"timeout_secs"`
	Options     map[string]any `toml:"options" json:"options,omitempty"`
}

// OpenAIConfig contains OpenAI configuration.
type OpenAIConfig struct {
	APIKey  string `toml:"api_key" json:"api_key"`
	BaseURL string `toml:"base_url" json:"base_url"`
	Model   string `toml:"model" json:"model"`
	// API is "responses" or "chat_completions".
	API string `toml:"api" json:"api"`
}

// StreamConfig tunes the stream decoder.
type StreamConfig struct {
	// Merger is "window", "affix" or "none".
	Merger string `toml:"merger" json:"merger"`
	// Window is the overlap window in characters for the window merger.
	Window int `toml:"window" json:"window"`
	// HaltOnMalformed ends a stream on the first malformed frame instead
	// of skipping it.
	HaltOnMalformed bool `toml:"halt_on_malformed" json:"halt_on_malformed"`
}

// StorageConfig contains chat store configuration.
type StorageConfig struct {
	// Path is the SQLite database file (empty = ~/.s6zchat/chats.db).
	Path string `toml:"path" json:"path"`
	// FlushIntervalMs is the minimum gap between transcript writes while
	// streaming.
	FlushIntervalMs int `toml:"flush_interval_ms" json:"flush_interval_ms"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `toml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `toml:"format" json:"format"`
}

// Backend names accepted by backend.default.
const (
	BackendOpenAI = "Open AI"
	BackendOllama = "Ollama"
)

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		App: AppConfig{
			GenerateTitles: true,
		},
		Backend: BackendConfig{
			Default: BackendOllama,
		},
		Ollama: OllamaConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "gemma3:latest",
			TimeoutSecs: 60,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4.1",
			API:     "responses",
		},
		Stream: StreamConfig{
			Merger: "window",
			Window: 20,
		},
		Storage: StorageConfig{
			FlushIntervalMs: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the s6zchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".s6zchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 since they may hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads the default config file if it exists, then .env files, then
// environment overrides. A missing file is not an error.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg := Default()
		if err := finish(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// finish applies .env files, environment overrides and defaults, then
// validates.
func finish(cfg *Config) error {
	LoadDotEnv()
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	cfg.SetDefaults()
	if _, err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadDotEnv loads .env from the working directory and the config
// directory. Variables already set in the environment are never replaced.
func LoadDotEnv() {
	paths := []string{".env"}
	if dir, err := ConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", p, err)
		}
	}
}

// SetDefaults fills in zero values with defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Backend.Default == "" {
		c.Backend.Default = defaults.Backend.Default
	}

	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = defaults.Ollama.BaseURL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = defaults.Ollama.Model
	}
	if c.Ollama.TimeoutSecs == 0 {
		c.Ollama.TimeoutSecs = defaults.Ollama.TimeoutSecs
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = defaults.OpenAI.BaseURL
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = defaults.OpenAI.Model
	}
	if c.OpenAI.API == "" {
		c.OpenAI.API = defaults.OpenAI.API
	}

	if c.Stream.Merger == "" {
		c.Stream.Merger = defaults.Stream.Merger
	}
	if c.Stream.Window == 0 {
		c.Stream.Window = defaults.Stream.Window
	}

	if c.Storage.FlushIntervalMs == 0 {
		c.Storage.FlushIntervalMs = defaults.Storage.FlushIntervalMs
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// EnvPrefix prefixes every environment override. The unprefixed name is
// accepted as a fallback, so OPENAI_API_KEY works as well as
// S6Z_OPENAI_API_KEY.
const EnvPrefix = "S6Z"

// envOverrides lists the settings that can come from the environment.
// Pointer fields stay nil when the variable is unset.
type envOverrides struct {
	Backend         *string `envconfig:"BACKEND"`
	OllamaBaseURL   *string `envconfig:"OLLAMA_BASE_URL"`
	OllamaModel     *string `envconfig:"OLLAMA_MODEL"`
	OpenAIKey       *string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL   *string `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel     *string `envconfig:"OPENAI_MODEL"`
	OpenAIAPI       *string `envconfig:"OPENAI_API"`
	StreamMerger    *string `envconfig:"STREAM_MERGER"`
	StreamWindow    *int    `envconfig:"STREAM_WINDOW"`
	HaltOnMalformed *bool   `envconfig:"STREAM_HALT_ON_MALFORMED"`
	StoragePath     *string `envconfig:"STORAGE_PATH"`
	GenerateTitles  *bool   `envconfig:"GENERATE_TITLES"`
	LogLevel        *string `envconfig:"LOG_LEVEL"`
	LogFormat       *string `envconfig:"LOG_FORMAT"`
}

// ApplyEnvOverrides applies environment variables over the config.
func (c *Config) ApplyEnvOverrides() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	setString(&c.Backend.Default, env.Backend)
	setString(&c.Ollama.BaseURL, env.OllamaBaseURL)
	setString(&c.Ollama.Model, env.OllamaModel)
	setString(&c.OpenAI.APIKey, env.OpenAIKey)
	setString(&c.OpenAI.BaseURL, env.OpenAIBaseURL)
	setString(&c.OpenAI.Model, env.OpenAIModel)
	setString(&c.OpenAI.API, env.OpenAIAPI)
	setString(&c.Stream.Merger, env.StreamMerger)
	setString(&c.Storage.Path, env.StoragePath)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)

	if env.StreamWindow != nil {
		c.Stream.Window = *env.StreamWindow
	}
	if env.HaltOnMalformed != nil {
		c.Stream.HaltOnMalformed = *env.HaltOnMalformed
	}
	if env.GenerateTitles != nil {
		c.App.GenerateTitles = *env.GenerateTitles
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# s6zchat configuration file")
	fmt.Fprintln(file, "# Generated by s6zchat - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. Problems that still allow the program
// to run (such as a missing OpenAI key) are returned as warnings; anything
// else is returned as ValidateErrors.
func (c *Config) Validate() (warnings []string, err error) {
	var errs ValidateErrors

	if c.Backend.Default != BackendOpenAI && c.Backend.Default != BackendOllama {
		errs = append(errs, ValidationError{
			Field:   "backend.default",
			Message: fmt.Sprintf("invalid backend '%s', must be one of: %s, %s", c.Backend.Default, BackendOpenAI, BackendOllama),
		})
	}

	if e := validateURL("ollama.base_url", c.Ollama.BaseURL); e != nil {
		errs = append(errs, *e)
	}
	if e := validateURL("openai.base_url", c.OpenAI.BaseURL); e != nil {
		errs = append(errs, *e)
	}

	if c.Ollama.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "ollama.timeout_secs", Message: "cannot be negative"})
	}

	switch c.OpenAI.API {
	case "responses", "chat_completions":
	default:
		errs = append(errs, ValidationError{
			Field:   "openai.api",
			Message: fmt.Sprintf("invalid API '%s', must be one of: responses, chat_completions", c.OpenAI.API),
		})
	}

	switch c.Stream.Merger {
	case "window", "affix", "none":
	default:
		errs = append(errs, ValidationError{
			Field:   "stream.merger",
			Message: fmt.Sprintf("invalid merger '%s', must be one of: window, affix, none", c.Stream.Merger),
		})
	}
	if c.Stream.Window < 1 {
		errs = append(errs, ValidationError{
			Field:   "stream.window",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Stream.Window),
		})
	}

	if c.Storage.FlushIntervalMs < 0 {
		errs = append(errs, ValidationError{Field: "storage.flush_interval_ms", Message: "cannot be negative"})
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: console, json", c.Log.Format),
		})
	}

	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		warnings = append(warnings, "OpenAI API key is not configured; the Open AI backend is unavailable")
	}

	if len(errs) > 0 {
		return warnings, errs
	}
	return warnings, nil
}

func validateURL(field, raw string) *ValidationError {
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: field, Message: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: field, Message: fmt.Sprintf("URL must use http or https, got '%s'", raw)}
	}
	if u.Host == "" {
		return &ValidationError{Field: field, Message: fmt.Sprintf("URL has no host: '%s'", raw)}
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Ollama.Options != nil {
		clone.Ollama.Options = maps.Clone(c.Ollama.Options)
	}
	return &clone
}

// Redacted returns a copy of the config that is safe to display.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	if safe.OpenAI.APIKey != "" {
		safe.OpenAI.APIKey = "[REDACTED]"
	}
	return safe
}

// String returns a JSON rendering of the config with the API key redacted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig   *Config
	globalConfigMu sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
func Global() *Config {
	globalConfigMu.RLock()
	cfg := globalConfig
	globalConfigMu.RUnlock()
	if cfg != nil {
		return cfg
	}

	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	if globalConfig == nil {
		loaded, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			loaded = Default()
		}
		globalConfig = loaded
	}
	return globalConfig
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the global config so the next Global call
// reloads it.
func ResetGlobalForTesting() {
	SetGlobal(nil)
}
