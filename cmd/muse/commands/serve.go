package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/muse/pkg/muse/channels/discord"
)

// newServeCmd creates the `muse serve` command that runs the Discord bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Discord bot",
		Long: `Connect to Discord, register the slash commands and answer messages
until interrupted. Reminders are swept in the background.

Examples:
  muse serve
  muse serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, slog.Default())
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger := newLogger(cmd, cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.channels.Register(discord.New(cfg.Discord, logger)); err != nil {
		return fmt.Errorf("registering discord: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Muse running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"timezone", cfg.Timezone,
		"tts", cfg.TTS.Provider,
	)
	return a.run(ctx)
}
