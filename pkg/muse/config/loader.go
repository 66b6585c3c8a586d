package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// Load builds the configuration. With an empty path the standard locations
// are searched; when no file exists the result comes from defaults and the
// environment alone. Secrets are resolved and the result validated.
func Load(path string, logger *slog.Logger) (*Config, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loadEnvFiles()

	if path == "" {
		path = FindConfigFile()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading config file: %w", err)
		}
		expanded, err := ExpandEnv(string(data))
		if err != nil {
			return nil, "", fmt.Errorf("config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, "", fmt.Errorf("parsing config YAML: %w", err)
		}
		checkFilePermissions(path, logger)
	} else {
		logger.Debug("no config file found, using environment only")
	}

	applyEnv(cfg)
	ResolveSecrets(cfg, logger)

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Parse decodes YAML over the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions. Secrets are written
// as environment references so the file never holds a key.
func Save(cfg *Config, path string) error {
	out := *cfg
	out.Discord.Token = secretRef(cfg.Discord.Token, EnvDiscordToken)
	out.AI.APIKey = secretRef(cfg.AI.APIKey, EnvGeminiKey)
	out.AI.Transcription.APIKey = secretRef(cfg.AI.Transcription.APIKey, EnvGroqKey)
	out.Weather.APIKey = secretRef(cfg.Weather.APIKey, EnvWeatherKey)
	out.TTS.OpenAI.APIKey = secretRef(cfg.TTS.OpenAI.APIKey, EnvOpenAIKey)

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches the standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"muse.yaml",
		"configs/config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "muse", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ExpandEnv replaces ${VAR}, ${VAR:-default} and ${VAR:?message}. Unset
// plain references are left in place; ${VAR:?message} fails.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, op, arg := m[1], m[2], m[3]
		val, ok := os.LookupEnv(name)
		switch op {
		case ":-":
			if !ok || val == "" {
				return arg
			}
		case ":?":
			if !ok || val == "" {
				if arg == "" {
					arg = "required but not set"
				}
				errs = append(errs, fmt.Errorf("%s: %s", name, arg))
				return match
			}
		default:
			if !ok {
				return match
			}
		}
		return val
	})
	return out, errors.Join(errs...)
}

// IsEnvReference reports whether s is an unexpanded ${VAR} reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}")
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		// Existing variables are not overwritten.
		_ = godotenv.Load(f)
	}
}

// applyEnv overlays the non-secret environment settings.
func applyEnv(cfg *Config) {
	if v := os.Getenv("BOT_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("MUSE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("MUSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DISCORD_GUILD_ID"); v != "" {
		cfg.Discord.GuildID = v
	}
}

func secretRef(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envVar + "}"
}

func checkFilePermissions(path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		logger.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
