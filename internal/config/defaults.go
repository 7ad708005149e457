package config

import (
	"github.com/hyperjump/storybook/internal/models"
	"github.com/hyperjump/storybook/internal/speech"
)

// Defaults for the ElevenLabs provider.
const (
	DefaultModel   = "eleven_turbo_v2_5"
	DefaultVoiceID = "UgBBYS2sOqTuMpoF3BR0"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = ProviderStub
	}
	if cfg.Speech.BaseURL == "" {
		cfg.Speech.BaseURL = speech.DefaultBaseURL
	}
	if cfg.Speech.Model == "" {
		cfg.Speech.Model = DefaultModel
	}
	if cfg.Speech.DefaultVoiceID == "" {
		cfg.Speech.DefaultVoiceID = DefaultVoiceID
	}
	if cfg.Speech.RequestsPerSecond == 0 {
		cfg.Speech.RequestsPerSecond = 2
	}
	if cfg.Speech.CacheMaxMB == 0 {
		cfg.Speech.CacheMaxMB = 256
	}
	if cfg.Speech.StubVoices == nil {
		cfg.Speech.StubVoices = []models.Voice{
			{ID: "stub-narrator", Name: "Narrator", Language: "en"},
			{ID: "stub-storyteller", Name: "Storyteller", Language: "en"},
		}
	}
	if cfg.Inbox.Extensions == nil {
		cfg.Inbox.Extensions = []string{".pdf", ".txt"}
	}
}
