package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/jholhewres/muse/pkg/muse/config"
)

func TestRootHasSubcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd("test")

	for _, path := range [][]string{
		{"serve"},
		{"chat"},
		{"setup"},
		{"reminders", "list"},
		{"reminders", "delete"},
		{"config", "show"},
		{"config", "set-key"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %v, %v", path, cmd, err)
		}
	}
	if root.RunE == nil {
		t.Error("root command should serve by default")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level   string
		verbose bool
		debug   bool
		warn    bool
	}{
		{"info", false, false, true},
		{"debug", false, true, true},
		{"error", false, false, false},
		{"error", true, true, true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/verbose=%v", tc.level, tc.verbose), func(t *testing.T) {
			t.Parallel()
			root := NewRootCmd("test")
			if tc.verbose {
				_ = root.PersistentFlags().Set("verbose", "true")
			}
			var buf bytes.Buffer
			logger := newLogger(root, config.LoggingConfig{Level: tc.level, Format: "text"}, &buf)

			ctx := context.Background()
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tc.debug {
				t.Errorf("debug enabled = %v, want %v", got, tc.debug)
			}
			if got := logger.Enabled(ctx, slog.LevelWarn); got != tc.warn {
				t.Errorf("warn enabled = %v, want %v", got, tc.warn)
			}
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	t.Parallel()
	root := NewRootCmd("test")

	var buf bytes.Buffer
	newLogger(root, config.LoggingConfig{Format: "json"}, &buf).Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	newLogger(root, config.LoggingConfig{Format: "text"}, &buf).Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestFindSecret(t *testing.T) {
	t.Parallel()

	s, err := findSecret("discord_token")
	if err != nil || s.Env != config.EnvDiscordToken {
		t.Errorf("findSecret = %+v, %v", s, err)
	}
	if _, err := findSecret("nope"); err == nil {
		t.Error("unknown secret should fail")
	}
}

func TestIgnoreCanceled(t *testing.T) {
	t.Parallel()

	if err := ignoreCanceled(fmt.Errorf("run: %w", context.Canceled)); err != nil {
		t.Errorf("canceled = %v, want nil", err)
	}
	boom := errors.New("boom")
	if err := ignoreCanceled(boom); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
