// Package commands implements the Muse CLI using cobra.
package commands

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jholhewres/muse/pkg/muse/config"
)

// NewRootCmd creates the root command with every subcommand registered.
// Without a subcommand it serves the Discord bot.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "muse",
		Short: "Muse - multi-modal Discord assistant",
		Long: `Muse answers Discord messages with text, voice or generated images,
reads attached documents and pictures, transcribes voice notes and
delivers reminders.

Examples:
  muse serve
  muse chat
  muse setup
  muse reminders list`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newRemindersCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}

// loadConfig loads the config named by --config, or the first one found.
func loadConfig(cmd *cobra.Command, logger *slog.Logger) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, found, err := config.Load(path, logger)
	if err != nil {
		return nil, err
	}
	if found != "" {
		logger.Debug("config loaded", "path", found)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section.
func newLogger(cmd *cobra.Command, cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
