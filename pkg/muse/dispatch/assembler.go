package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/store"
)

// voiceName matches Edge neural voice identifiers such as en-US-JennyNeural.
var voiceName = regexp.MustCompile(`[a-z]{2,3}-[A-Z]{2,4}-[A-Za-z]+Neural`)

// Assembler renders a Result in the user's modality and sends it.
type Assembler struct {
	text    TextModel
	speech  Synthesizer
	prompts *prompts.Set
	cfg     Config
	env     Environment
	logger  *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(deps Deps, cfg Config, env Environment, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		text:    deps.Text,
		speech:  deps.Speech,
		prompts: deps.Prompts,
		cfg:     cfg.normalize(),
		env:     env.normalize(),
		logger:  logger.With("component", "assembler"),
	}
}

// Outbound addresses one reply.
type Outbound struct {
	Channel  channels.Channel
	ChatID   string
	ReplyTo  string
	Nickname string
	Modality store.Modality
}

// Deliver sends res. Failures always go out as text; a generated artifact is
// removed once it has been sent or given up on.
func (a *Assembler) Deliver(ctx context.Context, out Outbound, res Result) error {
	if res.ArtifactPath != "" {
		defer os.Remove(res.ArtifactPath)
	}

	text := a.cfg.Messages.Text(res)
	if strings.TrimSpace(text) == "" {
		text = a.cfg.Messages.Reply
	}
	if !res.OK() {
		return a.SendText(ctx, out, text)
	}

	if res.ArtifactPath != "" {
		return a.sendImage(ctx, out, res.ArtifactPath, text)
	}
	if out.Modality == store.ModalityVoice {
		return a.sendVoice(ctx, out, text)
	}
	return a.SendText(ctx, out, text)
}

// SendText splits text into embed-sized parts. A part the platform rejects
// is resent as plain messages.
func (a *Assembler) SendText(ctx context.Context, out Outbound, text string) error {
	var errs []error
	for i, part := range Chunk(text, a.cfg.EmbedChunkSize) {
		embed := &channels.Embed{Description: part, Color: randomColor()}
		if i == 0 {
			embed.Title = "💬 Response - " + a.env.BotName
			embed.Footer = "Response for " + out.Nickname
		}
		msg := &channels.OutgoingMessage{Embeds: []*channels.Embed{embed}, ReplyTo: out.ReplyTo}
		if err := out.Channel.Send(ctx, out.ChatID, msg); err != nil {
			a.logger.Warn("embed rejected, resending as plain text", "chat", out.ChatID, "error", err)
			if err := a.sendPlain(ctx, out, part); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (a *Assembler) sendPlain(ctx context.Context, out Outbound, text string) error {
	for _, piece := range Chunk(text, a.cfg.PlainTextLimit) {
		msg := &channels.OutgoingMessage{Content: piece, ReplyTo: out.ReplyTo}
		if err := out.Channel.Send(ctx, out.ChatID, msg); err != nil {
			return fmt.Errorf("sending plain text: %w", err)
		}
	}
	return nil
}

// sendVoice speaks text in a detected voice. Synthesis is retried once with
// the default voice; when it still fails, or the channel cannot carry
// audio, the text is sent instead.
func (a *Assembler) sendVoice(ctx context.Context, out Outbound, text string) error {
	vc, ok := out.Channel.(channels.VoiceChannel)
	if !ok || a.speech == nil {
		return a.SendText(ctx, out, text)
	}

	voice := a.detectVoice(ctx, text)
	data, mimeType, err := a.synthesize(ctx, text, voice)
	if err != nil && voice != a.cfg.DefaultVoice {
		a.logger.Warn("speech failed, retrying with default voice", "voice", voice, "error", err)
		data, mimeType, err = a.synthesize(ctx, text, a.cfg.DefaultVoice)
	}
	if err != nil {
		a.logger.Error("speech synthesis failed, sending text", "error", err)
		return a.SendText(ctx, out, text)
	}

	path, err := a.writeAudio(data, mimeType)
	if err != nil {
		a.logger.Warn("could not keep audio file", "error", err)
	} else {
		defer os.Remove(path)
	}

	err = vc.SendVoice(ctx, out.ChatID, &channels.VoiceMessage{
		Data:     data,
		MimeType: mimeType,
		ReplyTo:  out.ReplyTo,
	})
	if err != nil {
		a.logger.Warn("voice message rejected, sending text", "error", err)
		return a.SendText(ctx, out, text)
	}
	return nil
}

func (a *Assembler) synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	sctx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.Helper)
	defer cancel()
	return a.speech.Synthesize(sctx, text, voice)
}

// detectVoice asks the text model for a voice matching the language of
// text, falling back to the default voice.
func (a *Assembler) detectVoice(ctx context.Context, text string) string {
	if a.text == nil || a.prompts == nil {
		return a.cfg.DefaultVoice
	}
	prompt, err := a.prompts.Render(prompts.DetectVoice, prompts.Data{"Text": clipRunes(text, 500)})
	if err != nil {
		return a.cfg.DefaultVoice
	}
	dctx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.Helper)
	defer cancel()
	answer, err := a.text.Complete(dctx, prompt)
	if err != nil {
		a.logger.Debug("voice detection failed", "error", err)
		return a.cfg.DefaultVoice
	}
	if v := voiceName.FindString(answer); v != "" {
		return v
	}
	return a.cfg.DefaultVoice
}

func (a *Assembler) writeAudio(data []byte, mimeType string) (string, error) {
	dir := filepath.Join(a.env.MediaDir, "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := ".mp3"
	if strings.Contains(mimeType, "ogg") || strings.Contains(mimeType, "opus") {
		ext = ".ogg"
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	return path, os.WriteFile(path, data, 0o644)
}

// sendImage uploads a generated picture with its caption. Without media
// support, or when the upload fails, only the caption is sent.
func (a *Assembler) sendImage(ctx context.Context, out Outbound, path, caption string) error {
	mc, ok := out.Channel.(channels.MediaChannel)
	if !ok {
		return a.SendText(ctx, out, caption)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		a.logger.Error("generated image missing", "path", path, "error", err)
		return a.SendText(ctx, out, caption)
	}
	err = mc.SendMedia(ctx, out.ChatID, &channels.MediaMessage{
		Type:     channels.MessageImage,
		Data:     data,
		MimeType: imageMime(path),
		Filename: filepath.Base(path),
		Caption:  caption,
		ReplyTo:  out.ReplyTo,
	})
	if err != nil {
		a.logger.Warn("image upload failed, sending caption", "error", err)
		return a.SendText(ctx, out, caption)
	}
	return nil
}

// Chunk splits text into parts of at most size runes. The parts concatenate
// back to text byte for byte; an invalid byte counts as one rune.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	var parts []string
	start, n := 0, 0
	for i := 0; i < len(text); {
		if n == size {
			parts = append(parts, text[start:i])
			start, n = i, 0
		}
		_, w := utf8.DecodeRuneInString(text[i:])
		i += w
		n++
	}
	return append(parts, text[start:])
}

func clipRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

func randomColor() int {
	return rand.IntN(0xFFFFFF + 1)
}

func imageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
