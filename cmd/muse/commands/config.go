package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/muse/pkg/muse/config"
)

// newConfigCmd creates `muse config` for inspecting configuration and
// managing keyring secrets.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration and manage secrets",
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, discardLogger())
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(config.Redacted(cfg))
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = "config.yaml"
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "overwrite an existing file")
	return cmd
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-key <name>",
		Short:     "Store a secret in the OS keyring",
		Long:      "Store a secret in the OS keyring. Names: " + secretNames(),
		Args:      cobra.ExactArgs(1),
		ValidArgs: secretKeys(),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := findSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: ", s.Label)
			value, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			if strings.TrimSpace(string(value)) == "" {
				return errors.New("empty value, nothing stored")
			}
			if err := config.StoreKeyring(s.Key, strings.TrimSpace(string(value))); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Printf("%s stored in the OS keyring.\n", s.Label)
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete-key <name>",
		Short:     "Remove a secret from the OS keyring",
		Args:      cobra.ExactArgs(1),
		ValidArgs: secretKeys(),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := findSecret(args[0])
			if err != nil {
				return err
			}
			if err := config.DeleteKeyring(s.Key); err != nil {
				return fmt.Errorf("removing from keyring: %w", err)
			}
			fmt.Printf("%s removed.\n", s.Label)
			return nil
		},
	}
}

func findSecret(name string) (config.Secret, error) {
	for _, s := range config.Secrets {
		if s.Key == name {
			return s, nil
		}
	}
	return config.Secret{}, fmt.Errorf("unknown secret %q (known: %s)", name, secretNames())
}

func secretKeys() []string {
	keys := make([]string, 0, len(config.Secrets))
	for _, s := range config.Secrets {
		keys = append(keys, s.Key)
	}
	return keys
}

func secretNames() string {
	return strings.Join(secretKeys(), ", ")
}
