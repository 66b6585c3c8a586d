// Package config defines Muse's configuration and how it is loaded: a YAML
// file when one exists, otherwise environment variables alone, with secrets
// taken from the OS keyring first.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jholhewres/muse/pkg/muse/ai"
	"github.com/jholhewres/muse/pkg/muse/ai/tts"
	"github.com/jholhewres/muse/pkg/muse/channels/console"
	"github.com/jholhewres/muse/pkg/muse/channels/discord"
	"github.com/jholhewres/muse/pkg/muse/dispatch"
	"github.com/jholhewres/muse/pkg/muse/reminder"
	"github.com/jholhewres/muse/pkg/muse/store"
	"github.com/jholhewres/muse/pkg/muse/web"
)

// Config holds all Muse configuration.
type Config struct {
	// Name is the bot name used in prompts and embeds.
	Name string `yaml:"name" validate:"required"`

	// Timezone is the IANA zone used for "current time" in prompts.
	Timezone string `yaml:"timezone" validate:"required,timezone"`

	// MediaDir holds staged attachments and generated artifacts.
	MediaDir string `yaml:"media_dir" validate:"required"`

	// PromptsDir optionally overrides embedded prompt templates by name.
	PromptsDir string `yaml:"prompts_dir" validate:"omitempty,dir"`

	Discord   discord.Config     `yaml:"discord"`
	Console   console.Config     `yaml:"console"`
	Database  store.Config       `yaml:"database"`
	AI        ai.Config          `yaml:"ai"`
	TTS       tts.Config         `yaml:"tts"`
	Web       web.FetcherConfig  `yaml:"web"`
	Weather   web.WeatherConfig  `yaml:"weather"`
	Dispatch  dispatch.Config    `yaml:"dispatch"`
	Reminders reminder.Config    `yaml:"reminders"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Format is "json" or "text".
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Name:     "Muse",
		Timezone: "UTC",
		MediaDir: "./data/media",
		Discord:  discord.DefaultConfig(),
		Console:  console.Config{HistoryFile: "./data/console_history"},
		Database: store.Config{
			Path:        "./data/muse.db",
			JournalMode: "WAL",
			BusyTimeout: 5000,
		},
		AI: ai.Config{
			BaseURL:    ai.DefaultBaseURL,
			Model:      ai.DefaultModel,
			ImageModel: ai.DefaultImageModel,
			Transcription: ai.TranscriptionConfig{
				BaseURL:  "https://api.groq.com/openai/v1",
				Model:    "whisper-large-v3-turbo",
				Language: "en",
				Prompt:   "This is English voice.",
			},
		},
		TTS: tts.Config{
			Provider: "edge",
			Voice:    tts.DefaultVoice,
		},
		Web: web.FetcherConfig{
			Timeout:    20 * time.Second,
			MaxContent: web.DefaultMaxContent,
		},
		Weather: web.WeatherConfig{
			BaseURL: web.DefaultWeatherURL,
			Units:   "metric",
			Lang:    "en",
		},
		Dispatch:  dispatch.DefaultConfig(),
		Reminders: reminder.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Database.Path == "" {
		return errors.New("invalid config: database.path is required")
	}
	return nil
}

// ValidateServe additionally checks what the Discord bot needs to start.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var missing []string
	if c.Discord.Token == "" {
		missing = append(missing, "discord token (DISCORD_BOT_TOKEN)")
	}
	if c.AI.APIKey == "" {
		missing = append(missing, "Gemini API key (GEMINI_API_KEY)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s; run 'muse setup' or set the environment variables", strings.Join(missing, ", "))
	}
	return nil
}
