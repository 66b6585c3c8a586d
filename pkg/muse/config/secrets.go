package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "muse"

// Environment variables holding secrets.
const (
	EnvDiscordToken = "DISCORD_BOT_TOKEN"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvGroqKey      = "GROQ_API_KEY"
	EnvWeatherKey   = "OPENWEATHER_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
)

// Secret names one credential and where it lives.
type Secret struct {
	Key   string // keyring key
	Env   string
	Label string
	field func(*Config) *string
}

// Secrets lists every credential Muse knows about.
var Secrets = []Secret{
	{"discord_token", EnvDiscordToken, "Discord bot token", func(c *Config) *string { return &c.Discord.Token }},
	{"gemini_api_key", EnvGeminiKey, "Gemini API key", func(c *Config) *string { return &c.AI.APIKey }},
	{"groq_api_key", EnvGroqKey, "Groq API key", func(c *Config) *string { return &c.AI.Transcription.APIKey }},
	{"openweather_api_key", EnvWeatherKey, "OpenWeather API key", func(c *Config) *string { return &c.Weather.APIKey }},
	{"openai_api_key", EnvOpenAIKey, "OpenAI API key (speech)", func(c *Config) *string { return &c.TTS.OpenAI.APIKey }},
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring returns a secret from the OS keyring, or "" when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable reports whether the OS keyring accepts writes.
func KeyringAvailable() bool {
	const canary = "__muse_keyring_check__"
	if err := keyring.Set(keyringService, canary, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, canary)
	return true
}

// ResolveSecrets fills every credential using keyring, then environment,
// then the config file value. Unexpanded ${VAR} references are cleared.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, s := range Secrets {
		dst := s.field(cfg)
		if v := GetKeyring(s.Key); v != "" {
			*dst = v
			logger.Debug("secret loaded from OS keyring", "secret", s.Key)
			continue
		}
		if v := os.Getenv(s.Env); v != "" {
			*dst = v
			continue
		}
		if IsEnvReference(*dst) {
			*dst = ""
		}
	}
}

// Redacted returns a copy of cfg with every secret masked.
func Redacted(cfg *Config) *Config {
	out := *cfg
	for _, s := range Secrets {
		if p := s.field(&out); *p != "" {
			*p = mask(*p)
		}
	}
	return &out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-2:]
}
