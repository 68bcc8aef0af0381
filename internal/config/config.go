// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/session"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-chat configuration.
type Config struct {
	// Completion service
	Provider ProviderConfig `toml:"provider" json:"provider" yaml:"provider"`

	// Persistence backend
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Save debouncing
	Persistence PersistenceConfig `toml:"persistence" json:"persistence" yaml:"persistence"`

	// Conversation titles
	Titles TitleConfig `toml:"titles" json:"titles" yaml:"titles"`

	// Client-side request pacing
	Requests RequestConfig `toml:"requests" json:"requests" yaml:"requests"`

	// Logging
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// ProviderConfig contains the completion endpoint configuration.
type ProviderConfig struct {
	// BaseURL is the OpenAI-compatible API root (".../v1")
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`
	// APIKey is sent as a bearer token; empty sends no Authorization header
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`
	// Model is used when a conversation has no model of its own
	Model string `toml:"model" json:"model" yaml:"model"`

	Temperature float64 `toml:"temperature" json:"temperature" yaml:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	TopP        float64 `toml:"top_p" json:"top_p" yaml:"top_p"`
	N           int     `toml:"n" json:"n" yaml:"n"`

	// SystemPrompt is prepended to every request; empty disables it
	SystemPrompt string `toml:"system_prompt" json:"system_prompt" yaml:"system_prompt"`

	// HeaderTimeoutSecs bounds the wait for response headers
	HeaderTimeoutSecs int `toml:"header_timeout_secs" json:"header_timeout_secs" yaml:"header_timeout_secs"`
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	// Backend is "auto", "bridge", "kv" or "file"
	Backend string `toml:"backend" json:"backend" yaml:"backend"`
	// DataDir holds chat-data.json and the KV database (empty = ~/.rigrun-chat/data)
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`
	// KVPath overrides the KV database location
	KVPath string `toml:"kv_path" json:"kv_path" yaml:"kv_path"`
	// Host runs the file-store host behind the bridge channels
	Host bool `toml:"host" json:"host" yaml:"host"`
	// ProbeTimeoutMs bounds the startup bridge probe
	ProbeTimeoutMs int `toml:"probe_timeout_ms" json:"probe_timeout_ms" yaml:"probe_timeout_ms"`
}

// PersistenceConfig controls save debouncing.
type PersistenceConfig struct {
	// DebounceMs is the quiet window before a save (default: 1000)
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
	// SaveTimeoutSecs bounds one timer-driven save
	SaveTimeoutSecs int `toml:"save_timeout_secs" json:"save_timeout_secs" yaml:"save_timeout_secs"`
}

// TitleConfig controls automatic titles.
type TitleConfig struct {
	// MaxRunes is the title budget before the ellipsis (default: 20)
	MaxRunes int `toml:"max_runes" json:"max_runes" yaml:"max_runes"`
}

// RequestConfig paces completion requests.
type RequestConfig struct {
	// RequestsPerMinute limits request starts; 0 disables the limit
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"`
	// Burst is the limiter bucket size (default: 1)
	Burst int `toml:"burst" json:"burst" yaml:"burst"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
	// File receives the log; empty logs to stderr
	File string `toml:"file" json:"file" yaml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:           cloud.DefaultBaseURL,
			Model:             cloud.DefaultModel,
			Temperature:       cloud.DefaultTemperature,
			MaxTokens:         cloud.DefaultMaxTokens,
			TopP:              cloud.DefaultTopP,
			N:                 cloud.DefaultN,
			SystemPrompt:      cloud.DefaultSystemPrompt,
			HeaderTimeoutSecs: int(cloud.DefaultHeaderTimeout / time.Second),
		},
		Storage: StorageConfig{
			Backend:        string(storage.BackendAuto),
			Host:           true,
			ProbeTimeoutMs: int(storage.DefaultProbeTimeout / time.Millisecond),
		},
		Persistence: PersistenceConfig{
			DebounceMs:      1000,
			SaveTimeoutSecs: 10,
		},
		Titles: TitleConfig{
			MaxRunes: model.DefaultTitleRunes,
		},
		Requests: RequestConfig{
			Burst: 1,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: logging.FormatAuto,
		},
	}
}

// SetDefaults fills fields that must not be zero.
func (c *Config) SetDefaults() {
	def := Default()
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = def.Provider.BaseURL
	}
	if c.Provider.Model == "" {
		c.Provider.Model = def.Provider.Model
	}
	if c.Provider.MaxTokens == 0 {
		c.Provider.MaxTokens = def.Provider.MaxTokens
	}
	if c.Provider.N == 0 {
		c.Provider.N = def.Provider.N
	}
	if c.Provider.HeaderTimeoutSecs == 0 {
		c.Provider.HeaderTimeoutSecs = def.Provider.HeaderTimeoutSecs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if c.Storage.ProbeTimeoutMs == 0 {
		c.Storage.ProbeTimeoutMs = def.Storage.ProbeTimeoutMs
	}
	if c.Persistence.DebounceMs == 0 {
		c.Persistence.DebounceMs = def.Persistence.DebounceMs
	}
	if c.Persistence.SaveTimeoutSecs == 0 {
		c.Persistence.SaveTimeoutSecs = def.Persistence.SaveTimeoutSecs
	}
	if c.Titles.MaxRunes == 0 {
		c.Titles.MaxRunes = def.Titles.MaxRunes
	}
	if c.Requests.Burst == 0 {
		c.Requests.Burst = def.Requests.Burst
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns ~/.rigrun-chat.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-chat"), nil
}

// ConfigPathTOML returns the TOML config location.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the JSON config location.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DataDir returns the configured data directory, defaulting to
// ~/.rigrun-chat/data.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return expandHome(c.Storage.DataDir)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads ~/.rigrun-chat/config.toml, then config.json, then falls back
// to defaults. Environment overrides apply in every case. A config file that
// fails to parse is reported alongside the defaults.
func Load() (*Config, error) {
	var loadErr error
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err != nil {
			loadErr = err
			break
		}
		return cfg, nil
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadFromPath loads a config file chosen by extension (.toml, .json, .yaml,
// .yml) on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return err
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// LoadYAML decodes a YAML file into cfg.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies RIGRUN_CHAT_* variables. OPENAI_API_KEY is used
// when no key is configured.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("RIGRUN_CHAT_API_KEY"); key != "" {
		c.Provider.APIKey = key
	} else if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if base := os.Getenv("RIGRUN_CHAT_BASE_URL"); base != "" {
		c.Provider.BaseURL = base
	}
	if m := os.Getenv("RIGRUN_CHAT_MODEL"); m != "" {
		c.Provider.Model = m
	}
	if backend := os.Getenv("RIGRUN_CHAT_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if dir := os.Getenv("RIGRUN_CHAT_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if level := os.Getenv("RIGRUN_CHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if ms := os.Getenv("RIGRUN_CHAT_DEBOUNCE_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			c.Persistence.DebounceMs = v
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every validation failure.
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

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Provider.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("provider.base_url", "must be an http(s) URL, got %q", c.Provider.BaseURL)
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		add("provider.temperature", "must be between 0 and 2, got %v", c.Provider.Temperature)
	}
	if c.Provider.TopP <= 0 || c.Provider.TopP > 1 {
		add("provider.top_p", "must be in (0, 1], got %v", c.Provider.TopP)
	}
	if c.Provider.MaxTokens < 0 {
		add("provider.max_tokens", "must not be negative")
	}
	if c.Provider.N < 1 {
		add("provider.n", "must be at least 1")
	}
	if _, err := storage.ParseBackend(c.Storage.Backend); err != nil {
		add("storage.backend", "%v", err)
	}
	if c.Persistence.DebounceMs < 0 {
		add("persistence.debounce_ms", "must not be negative")
	}
	if c.Titles.MaxRunes < 1 {
		add("titles.max_runes", "must be at least 1")
	}
	if c.Requests.RequestsPerMinute < 0 {
		add("requests.requests_per_minute", "must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	switch c.Log.Format {
	case logging.FormatAuto, logging.FormatConsole, logging.FormatJSON:
	default:
		add("log.format", "must be auto, console or json, got %q", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// COMPONENT CONFIGS
// =============================================================================

// CloudConfig returns the completion client configuration.
func (c *Config) CloudConfig() cloud.Config {
	return cloud.Config{
		BaseURL:       c.Provider.BaseURL,
		APIKey:        c.Provider.APIKey,
		Model:         c.Provider.Model,
		Temperature:   float32(c.Provider.Temperature),
		MaxTokens:     c.Provider.MaxTokens,
		TopP:          float32(c.Provider.TopP),
		N:             c.Provider.N,
		SystemPrompt:  c.Provider.SystemPrompt,
		HeaderTimeout: time.Duration(c.Provider.HeaderTimeoutSecs) * time.Second,
	}
}

// SchedulerConfig returns the persistence scheduler configuration.
func (c *Config) SchedulerConfig() session.Config {
	return session.Config{
		Quiet:       time.Duration(c.Persistence.DebounceMs) * time.Millisecond,
		SaveTimeout: time.Duration(c.Persistence.SaveTimeoutSecs) * time.Second,
	}
}

// LogConfig returns the logging configuration.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}

// ProbeTimeout returns the bridge probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Storage.ProbeTimeoutMs) * time.Millisecond
}

// =============================================================================
// SAVING
// =============================================================================

// SaveTOML writes cfg to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigrun-chat configuration file\n")
	b.WriteString("# Generated by rigrun-chat - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	// SECURITY: 0600 = owner read/write only; the file may hold an API key
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
