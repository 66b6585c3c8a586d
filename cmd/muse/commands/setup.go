package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/muse/pkg/muse/config"
)

// newSetupCmd creates the `muse setup` wizard.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Create config.yaml step by step. API keys go to the OS keyring when
one is available; the config file only ever holds ${VAR} references.

Examples:
  muse setup
  muse setup --config ~/.config/muse/config.yaml`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = "config.yaml"
	}

	cfg := config.Default()
	if data, err := os.ReadFile(path); err == nil {
		if existing, err := config.Parse(data); err == nil {
			cfg = existing
		}
	}

	keys := make(map[string]*string, len(config.Secrets))
	for _, s := range config.Secrets {
		keys[s.Key] = new(string)
	}
	useKeyring := config.KeyringAvailable()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Value(&cfg.Name).
				Validate(required("a name")),
			huh.NewInput().
				Title("Timezone").
				Description("IANA name used for the current time in prompts, e.g. Europe/Lisbon").
				Value(&cfg.Timezone).
				Validate(validTimezone),
			huh.NewSelect[string]().
				Title("Voice provider").
				Options(
					huh.NewOption("Edge neural voices (free)", "edge"),
					huh.NewOption("OpenAI speech", "openai"),
					huh.NewOption("OpenAI with Edge fallback", "auto"),
				).
				Value(&cfg.TTS.Provider),
		).Title("Muse"),
		huh.NewGroup(secretInputs(keys)...).
			Title("Credentials").
			Description("Leave a field empty to keep using the environment variable."),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Store the keys in the OS keyring?").
				Description("Otherwise export them as environment variables or in a .env file.").
				Value(&useKeyring),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}

	var pending []string
	for _, s := range config.Secrets {
		value := strings.TrimSpace(*keys[s.Key])
		if value == "" {
			continue
		}
		if useKeyring {
			if err := config.StoreKeyring(s.Key, value); err != nil {
				return fmt.Errorf("storing %s in keyring: %w", s.Label, err)
			}
			continue
		}
		pending = append(pending, s.Env)
	}

	if err := config.Save(cfg, path); err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", path)
	if len(pending) > 0 {
		fmt.Println("Export these variables before running 'muse serve':")
		for _, env := range pending {
			fmt.Printf("  %s\n", env)
		}
	}
	return nil
}

func secretInputs(keys map[string]*string) []huh.Field {
	fields := make([]huh.Field, 0, len(config.Secrets))
	for _, s := range config.Secrets {
		fields = append(fields, huh.NewInput().
			Title(s.Label).
			Description(s.Env).
			EchoMode(huh.EchoModePassword).
			Value(keys[s.Key]))
	}
	return fields
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validTimezone(s string) error {
	if _, err := time.LoadLocation(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}
