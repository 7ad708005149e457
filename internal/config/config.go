// Package config provides configuration loading and structs for the Storybook server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/hyperjump/storybook/internal/models"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Speech providers.
const (
	ProviderStub       = "stub"
	ProviderElevenLabs = "elevenlabs"
	ProviderNone       = "none"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug" env:"STORYBOOK_DEBUG"`
	Server  ServerConfig  `yaml:"server"`
	Speech  SpeechConfig  `yaml:"speech"`
	Inbox   InboxConfig   `yaml:"inbox"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host" env:"STORYBOOK_SERVER_HOST"`
	Port           int      `yaml:"port" env:"STORYBOOK_SERVER_PORT"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SpeechConfig selects and configures the speech engine.
type SpeechConfig struct {
	Provider          string         `yaml:"provider" env:"STORYBOOK_SPEECH_PROVIDER"`
	APIKey            string         `yaml:"api_key" env:"STORYBOOK_ELEVENLABS_API_KEY"`
	BaseURL           string         `yaml:"base_url"`
	Model             string         `yaml:"model"`
	DefaultVoiceID    string         `yaml:"default_voice_id"`
	RequestsPerSecond float64        `yaml:"requests_per_second"` // negative disables the cap
	PlayerCommand     []string       `yaml:"player_command"`
	CacheDir          string         `yaml:"cache_dir"`
	CacheMaxMB        int            `yaml:"cache_max_mb"`
	StubVoices        []models.Voice `yaml:"stub_voices"`
}

// InboxConfig holds the drop folder settings. An empty directory disables it.
type InboxConfig struct {
	Directory  string   `yaml:"directory" env:"STORYBOOK_INBOX_DIR"`
	Extensions []string `yaml:"extensions"`
}

// SessionConfig holds session behaviour switches.
type SessionConfig struct {
	// ClearTextOnFailure discards the previous file's text when a new
	// selection fails to extract.
	ClearTextOnFailure bool `yaml:"clear_text_on_failure"`
}

// Load reads and parses the config file at path, applies .env and environment
// overrides, expands paths, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	configDir := filepath.Dir(path)
	if err := applyEnv(&cfg, filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	if cfg.Speech.CacheDir != "" {
		cfg.Speech.CacheDir = expandPath(cfg.Speech.CacheDir, configDir)
	}
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no config file exists: defaults
// plus environment overrides (a .env in the working directory is honoured).
func Default() (*Config, error) {
	var cfg Config
	if err := applyEnv(&cfg, ".env"); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	if cfg.Inbox.Directory != "" {
		if abs, err := filepath.Abs(cfg.Inbox.Directory); err == nil {
			cfg.Inbox.Directory = abs
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv loads dotenv (missing file is fine) and then overrides cfg fields
// tagged with env.
func applyEnv(cfg *Config, dotenv string) error {
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", dotenv, err)
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// Validate checks settings that have no sensible default.
func (c *Config) Validate() error {
	switch c.Speech.Provider {
	case ProviderStub, ProviderNone:
	case ProviderElevenLabs:
		if c.Speech.APIKey == "" {
			return fmt.Errorf("config: speech.api_key is required for the elevenlabs provider (or set STORYBOOK_ELEVENLABS_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown speech provider %q (want stub, elevenlabs or none)", c.Speech.Provider)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Speech.CacheMaxMB < 0 {
		return fmt.Errorf("config: speech.cache_max_mb must not be negative")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// Save writes cfg to path in YAML format.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
