package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func init() {
	keyring.MockInit()
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("MUSE_TEST_SET", "value")
	t.Setenv("MUSE_TEST_EMPTY", "")

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a: ${MUSE_TEST_SET}", "a: value", false},
		{"a: ${MUSE_TEST_UNSET}", "a: ${MUSE_TEST_UNSET}", false},
		{"a: ${MUSE_TEST_UNSET:-fallback}", "a: fallback", false},
		{"a: ${MUSE_TEST_EMPTY:-fallback}", "a: fallback", false},
		{"a: ${MUSE_TEST_SET:-fallback}", "a: value", false},
		{"a: ${MUSE_TEST_SET:?needed}", "a: value", false},
		{"a: ${MUSE_TEST_UNSET:?needed}", "", true},
		{"price: $5", "price: $5", false},
	}
	for _, tc := range cases {
		got, err := ExpandEnv(tc.in)
		if tc.wantErr {
			if err == nil || !strings.Contains(err.Error(), "needed") {
				t.Errorf("ExpandEnv(%q) err = %v, want message", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExpandEnv(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("MUSE_TEST_TOKEN", "file-token")
	t.Setenv(EnvDiscordToken, "")
	t.Setenv(EnvGeminiKey, "env-gemini")
	os.WriteFile(path, []byte(`
name: Juno
timezone: Europe/Oslo
discord:
  token: ${MUSE_TEST_TOKEN}
ai:
  api_key: ${GEMINI_API_KEY}
  model: gemini-1.5-pro
dispatch:
  timeouts:
    reply: 40s
logging:
  format: text
`), 0o600)

	cfg, used, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != path {
		t.Errorf("path = %q", used)
	}
	if cfg.Name != "Juno" || cfg.Timezone != "Europe/Oslo" {
		t.Errorf("top-level fields not applied: %+v", cfg)
	}
	if cfg.Discord.Token != "file-token" {
		t.Errorf("token = %q", cfg.Discord.Token)
	}
	if cfg.AI.APIKey != "env-gemini" || cfg.AI.Model != "gemini-1.5-pro" {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.Dispatch.Timeouts.Reply != 40*time.Second {
		t.Errorf("reply timeout = %s", cfg.Dispatch.Timeouts.Reply)
	}
	if cfg.Dispatch.Timeouts.Helper != 20*time.Second {
		t.Errorf("helper timeout default lost: %s", cfg.Dispatch.Timeouts.Helper)
	}
	if cfg.Location().String() != "Europe/Oslo" {
		t.Errorf("location = %s", cfg.Location())
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvDiscordToken, "env-token")
	t.Setenv(EnvGeminiKey, "g")
	t.Setenv("BOT_NAME", "Echo")

	cfg, used, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != "" {
		t.Errorf("unexpected config file %q", used)
	}
	if cfg.Name != "Echo" || cfg.Discord.Token != "env-token" {
		t.Errorf("env not applied: name=%q token=%q", cfg.Name, cfg.Discord.Token)
	}
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe: %v", err)
	}
}

func TestKeyringWinsOverEnv(t *testing.T) {
	t.Setenv(EnvGroqKey, "from-env")
	if err := StoreKeyring("groq_api_key", "from-keyring"); err != nil {
		t.Fatal(err)
	}
	defer DeleteKeyring("groq_api_key")

	cfg := Default()
	cfg.AI.Transcription.APIKey = "${GROQ_API_KEY}"
	ResolveSecrets(cfg, nil)
	if cfg.AI.Transcription.APIKey != "from-keyring" {
		t.Errorf("groq key = %q", cfg.AI.Transcription.APIKey)
	}
}

func TestUnresolvedReferenceCleared(t *testing.T) {
	t.Setenv(EnvWeatherKey, "")
	cfg := Default()
	cfg.Weather.APIKey = "${OPENWEATHER_API_KEY}"
	ResolveSecrets(cfg, nil)
	if cfg.Weather.APIKey != "" {
		t.Errorf("weather key = %q, want empty", cfg.Weather.APIKey)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, false},
		{"no name", func(c *Config) { c.Name = "" }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"no database", func(c *Config) { c.Database.Path = "" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateServeMissingSecrets(t *testing.T) {
	t.Parallel()

	err := Default().ValidateServe()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "DISCORD_BOT_TOKEN") || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Errorf("error should name both secrets: %v", err)
	}
}

func TestSaveWritesReferences(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Discord.Token = "real-discord-token"
	cfg.AI.APIKey = "real-gemini-key"
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, _ := os.ReadFile(path)
	s := string(data)
	if strings.Contains(s, "real-discord-token") || strings.Contains(s, "real-gemini-key") {
		t.Errorf("secret written to disk:\n%s", s)
	}
	if !strings.Contains(s, "${DISCORD_BOT_TOKEN}") {
		t.Errorf("reference missing:\n%s", s)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %o", info.Mode().Perm())
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back.Dispatch.Timeouts != cfg.Dispatch.Timeouts {
		t.Errorf("timeouts changed across save: %+v", back.Dispatch.Timeouts)
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Discord.Token = "abcdefghijklmnop"
	r := Redacted(cfg)
	if r.Discord.Token != "abcd****op" {
		t.Errorf("masked = %q", r.Discord.Token)
	}
	if cfg.Discord.Token != "abcdefghijklmnop" {
		t.Error("original modified")
	}
}
