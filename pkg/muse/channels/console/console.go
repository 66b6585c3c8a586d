// Package console implements a local terminal channel for Muse. It feeds
// lines typed at a readline prompt into the same dispatch pipeline that
// serves Discord, which makes it handy for trying prompts and modes without
// a bot token.
//
// Input syntax:
//
//	hello there               plain text message
//	/voice                    slash command without arguments
//	/weather Lisbon           slash command, trailing option takes the rest
//	/attach ./photo.png what? message with a local file attached
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/jholhewres/muse/pkg/muse/channels"
)

// Config holds console channel configuration.
type Config struct {
	// UserID and UserName identify the local user to the dispatcher.
	UserID   string `yaml:"user_id"`
	UserName string `yaml:"user_name"`

	// Prompt is the readline prompt.
	Prompt string `yaml:"prompt"`

	// HistoryFile persists typed lines between sessions.
	HistoryFile string `yaml:"history_file"`

	// OutputDir receives files and voice clips sent by the assistant.
	OutputDir string `yaml:"output_dir"`

	// In and Out override the terminal. Used by tests.
	In  io.ReadCloser `yaml:"-"`
	Out io.Writer     `yaml:"-"`
}

// Console implements channels.Channel on top of a readline prompt.
type Console struct {
	cfg    Config
	logger *slog.Logger

	rl  *readline.Instance
	out io.Writer

	messages chan *channels.IncomingMessage
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.RWMutex
	commands map[string]channels.CommandSpec

	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
	seq       atomic.Int64
}

// New creates a console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserID == "" {
		cfg.UserID = "console"
	}
	if cfg.UserName == "" {
		cfg.UserName = os.Getenv("USER")
		if cfg.UserName == "" {
			cfg.UserName = "you"
		}
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "muse> "
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(os.TempDir(), "muse-console")
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      out,
		messages: make(chan *channels.IncomingMessage, 16),
		done:     make(chan struct{}),
		commands: make(map[string]channels.CommandSpec),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect opens the readline prompt and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("console: create output dir: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           c.cfg.In,
		Stdout:          c.cfg.Out,
	})
	if err != nil {
		return fmt.Errorf("console: init readline: %w", err)
	}
	c.rl = rl
	c.out = rl.Stdout()
	c.connected.Store(true)

	go c.readLoop(ctx)
	return nil
}

// Disconnect closes the prompt.
func (c *Console) Disconnect() error {
	c.connected.Store(false)
	c.finish()
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Done is closed when the user ends the session (Ctrl-D, /exit).
func (c *Console) Done() <-chan struct{} { return c.done }

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected reports whether the prompt is open.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

// Send prints a message. Embeds are rendered as a title line, the body and
// an optional footer.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	var b strings.Builder
	if message.Content != "" {
		b.WriteString(message.Content)
		b.WriteString("\n")
	}
	for _, e := range message.Embeds {
		if e.Title != "" {
			fmt.Fprintf(&b, "== %s ==\n", e.Title)
		}
		if e.Description != "" {
			b.WriteString(e.Description)
			b.WriteString("\n")
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "  %s: %s\n", f.Name, f.Value)
		}
		if e.Footer != "" {
			fmt.Fprintf(&b, "-- %s\n", e.Footer)
		}
	}
	_, err := io.WriteString(c.out, b.String())
	return err
}

// SendMedia writes the file into the output directory and prints its path.
func (c *Console) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	name := media.Filename
	if name == "" {
		name = uuid.NewString()
	}
	path, err := c.save(name, media.Data)
	if err != nil {
		return err
	}
	return c.Send(ctx, to, &channels.OutgoingMessage{Content: strings.TrimSpace(media.Caption + "\n[file] " + path)})
}

// SendVoice saves the clip and prints its path.
func (c *Console) SendVoice(ctx context.Context, to string, voice *channels.VoiceMessage) error {
	ext := ".ogg"
	if strings.Contains(voice.MimeType, "mpeg") {
		ext = ".mp3"
	}
	path, err := c.save(uuid.NewString()+ext, voice.Data)
	if err != nil {
		return err
	}
	return c.Send(ctx, to, &channels.OutgoingMessage{Content: "[voice] " + path})
}

// SendDirect prints a message addressed to the local user.
func (c *Console) SendDirect(ctx context.Context, userID string, message *channels.OutgoingMessage) error {
	if userID != c.cfg.UserID {
		return fmt.Errorf("console: unknown user %q", userID)
	}
	return c.Send(ctx, userID, message)
}

// DownloadMedia reads an attached local file.
func (c *Console) DownloadMedia(_ context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.Path == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}
	data, err := os.ReadFile(msg.Media.Path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	return data, msg.Media.MimeType, nil
}

// RegisterCommands records the command table used to parse slash lines.
func (c *Console) RegisterCommands(_ context.Context, specs []channels.CommandSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range specs {
		c.commands[s.Name] = s
	}
	return nil
}

func (c *Console) readLoop(ctx context.Context) {
	defer c.finish()
	for {
		line, err := c.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("console: read failed", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/exit" || line == "/quit" {
			return
		}

		msg, err := c.ParseLine(line)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			continue
		}
		c.lastMsg.Store(time.Now())

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// ParseLine turns one typed line into an incoming message.
func (c *Console) ParseLine(line string) (*channels.IncomingMessage, error) {
	msg := &channels.IncomingMessage{
		ID:        "console-" + strconv.FormatInt(c.seq.Add(1), 10),
		Channel:   "console",
		From:      c.cfg.UserID,
		FromName:  c.cfg.UserName,
		ChatID:    c.cfg.UserID,
		Type:      channels.MessageText,
		Content:   line,
		Timestamp: time.Now(),
	}

	if !strings.HasPrefix(line, "/") {
		return msg, nil
	}

	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)

	if name == "attach" {
		path, text, _ := strings.Cut(rest, " ")
		if path == "" {
			return nil, fmt.Errorf("usage: /attach <path> [text]")
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("attach: %w", err)
		}
		ext := strings.ToLower(filepath.Ext(path))
		mimeType := mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = audioTypes[ext]
		}
		mediaType := channels.MediaType(path, mimeType)
		msg.Type = mediaType
		msg.Content = strings.TrimSpace(text)
		msg.Media = &channels.MediaInfo{
			Type:     mediaType,
			MimeType: mimeType,
			Filename: filepath.Base(path),
			FileSize: uint64(info.Size()),
			Path:     path,
		}
		return msg, nil
	}

	c.mu.RLock()
	spec, ok := c.commands[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown command /%s", name)
	}

	opts, err := bindOptions(spec, rest)
	if err != nil {
		return nil, err
	}
	msg.Type = channels.MessageCommand
	msg.Content = ""
	msg.Command = &channels.Command{Name: name, Options: opts}
	return msg, nil
}

// audioTypes covers extensions missing from minimal mime tables.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
}

// bindOptions assigns whitespace separated arguments to the spec's options
// in order. The last option receives the remainder of the line.
func bindOptions(spec channels.CommandSpec, args string) (map[string]string, error) {
	opts := make(map[string]string, len(spec.Options))
	rest := args
	for i, o := range spec.Options {
		var v string
		if i == len(spec.Options)-1 {
			v = strings.TrimSpace(rest)
		} else {
			v, rest, _ = strings.Cut(strings.TrimSpace(rest), " ")
		}
		if v == "" {
			if o.Required {
				return nil, fmt.Errorf("/%s: missing %s", spec.Name, o.Name)
			}
			continue
		}
		if o.Type == channels.OptionInteger {
			if _, err := strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("/%s: %s must be a number", spec.Name, o.Name)
			}
		}
		opts[o.Name] = v
	}
	return opts, nil
}

func (c *Console) completer() readline.AutoCompleter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items := []readline.PrefixCompleterInterface{readline.PcItem("/attach"), readline.PcItem("/exit")}
	for name := range c.commands {
		items = append(items, readline.PcItem("/"+name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (c *Console) save(name string, data []byte) (string, error) {
	path := filepath.Join(c.cfg.OutputDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("console: save %s: %w", name, err)
	}
	return path, nil
}

func (c *Console) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Compile-time interface verification.
var (
	_ channels.Channel        = (*Console)(nil)
	_ channels.MediaChannel   = (*Console)(nil)
	_ channels.VoiceChannel   = (*Console)(nil)
	_ channels.DirectChannel  = (*Console)(nil)
	_ channels.CommandChannel = (*Console)(nil)
)
