package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/muse/pkg/muse/channels/console"
	"github.com/jholhewres/muse/pkg/muse/config"
)

// newChatCmd creates the `muse chat` command: the same pipeline as the
// Discord bot, driven from a terminal prompt.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Muse from the terminal",
		Long: `Start an interactive session that goes through the same pipeline as
Discord. Slash commands work as typed lines; attach a local file with
/attach <path> [message]. Type /exit or press Ctrl-D to quit.

Examples:
  muse chat
  muse chat --user alice`,
		RunE: runChat,
	}
	cmd.Flags().String("user", "", "user id to chat as (keeps a separate history)")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("chat needs an interactive terminal")
	}

	cfg, err := loadConfig(cmd, discardLogger())
	if err != nil {
		return err
	}
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("missing Gemini API key; run 'muse setup' or set %s", config.EnvGeminiKey)
	}

	// Logs share the terminal with the prompt, so only warnings show
	// unless --verbose is given.
	logCfg := cfg.Logging
	logCfg.Format = "text"
	if logCfg.Level == "" || logCfg.Level == "info" || logCfg.Level == "debug" {
		logCfg.Level = "warn"
	}
	logger := newLogger(cmd, logCfg, os.Stderr)

	consoleCfg := cfg.Console
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		consoleCfg.UserID = user
		consoleCfg.UserName = user
	}
	con := console.New(consoleCfg, logger)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.channels.Register(con); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-con.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("%s is listening. Type /help for commands, /exit to quit.\n", cfg.Name)
	return a.run(ctx)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
