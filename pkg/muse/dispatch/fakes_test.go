package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/muse/pkg/muse/ai"
	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/reminder"
	"github.com/jholhewres/muse/pkg/muse/store"
)

// Markers that identify which template a prompt was rendered from.
const (
	markReply   = "Current time:"
	markVoice   = "Microsoft Edge neural voice"
	markShort   = "Condense the following"
	markPrune   = "carry no lasting value"
	markRender  = "Write one detailed prompt for an image generation model"
	markSuccess = "An image was just generated"
	markFailure = "failed. Write one short"
)

type fakeText struct {
	mu      sync.Mutex
	prompts []string
	answer  func(ctx context.Context, prompt string) (string, error)
	vision  func(prompt string, image []byte) (string, error)
}

func (f *fakeText) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	answer := f.answer
	f.mu.Unlock()
	if answer == nil {
		return "ok", nil
	}
	return answer(ctx, prompt)
}

func (f *fakeText) CompleteWithVision(_ context.Context, prompt string, image []byte, _ string) (string, error) {
	if f.vision == nil {
		return "a photo", nil
	}
	return f.vision(prompt, image)
}

func (f *fakeText) count(marker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.prompts {
		if strings.Contains(p, marker) {
			n++
		}
	}
	return n
}

type fakeImages struct {
	images []ai.Image
	err    error
}

func (f *fakeImages) GenerateImage(context.Context, string) ([]ai.Image, error) {
	return f.images, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeSpeech struct {
	mu     sync.Mutex
	voices []string
	fail   func(voice string) bool
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, voice string) ([]byte, string, error) {
	f.mu.Lock()
	f.voices = append(f.voices, voice)
	f.mu.Unlock()
	if f.fail != nil && f.fail(voice) {
		return nil, "", errors.New("voice unavailable")
	}
	return []byte("OggS" + text), "audio/ogg", nil
}

// fakeChannel records everything sent through it.
type fakeChannel struct {
	mu          sync.Mutex
	sent        []*channels.OutgoingMessage
	media       []*channels.MediaMessage
	voices      []*channels.VoiceMessage
	files       map[string][]byte
	rejectEmbed bool
	unreachable bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{files: map[string][]byte{}}
}

func (f *fakeChannel) Name() string { return "fake" }
func (f *fakeChannel) Connect(context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error { return nil }
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return nil }
func (f *fakeChannel) IsConnected() bool { return true }
func (f *fakeChannel) Health() channels.HealthStatus { return channels.HealthStatus{Connected: true} }
func (f *fakeChannel) SendTyping(context.Context, string) error { return nil }

func (f *fakeChannel) Send(_ context.Context, _ string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable {
		return errors.New("channel unreachable")
	}
	if f.rejectEmbed && len(msg.Embeds) > 0 {
		return errors.New("embed rejected")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) SendMedia(_ context.Context, _ string, m *channels.MediaMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable {
		return errors.New("channel unreachable")
	}
	f.media = append(f.media, m)
	return nil
}

func (f *fakeChannel) SendVoice(_ context.Context, _ string, v *channels.VoiceMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable {
		return errors.New("channel unreachable")
	}
	f.voices = append(f.voices, v)
	return nil
}

func (f *fakeChannel) DownloadMedia(_ context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[msg.ID]
	if !ok {
		return nil, "", channels.ErrMediaDownloadFailed
	}
	return data, msg.Media.MimeType, nil
}

// texts returns every sent embed description or plain content, in order.
func (f *fakeChannel) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.Content != "" {
			out = append(out, m.Content)
		}
		for _, e := range m.Embeds {
			out = append(out, e.Description)
		}
	}
	return out
}

type harness struct {
	d           *Dispatcher
	st          *store.Store
	ch          *fakeChannel
	text        *fakeText
	images      *fakeImages
	transcriber *fakeTranscriber
	speech      *fakeSpeech
	mediaDir    string
	seq         int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(store.Config{Path: filepath.Join(dir, "muse.db")}, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := &harness{
		st:          st,
		ch:          newFakeChannel(),
		text:        &fakeText{},
		images:      &fakeImages{},
		transcriber: &fakeTranscriber{},
		speech:      &fakeSpeech{},
		mediaDir:    filepath.Join(dir, "media"),
	}
	mgr := channels.NewManager(nil)
	if err := mgr.Register(h.ch); err != nil {
		t.Fatal(err)
	}
	h.d = New(Deps{
		Store:       st,
		Text:        h.text,
		Images:      h.images,
		Transcriber: h.transcriber,
		Speech:      h.speech,
		Prompts:     prompts.MustLoad(),
		Reminders:   reminder.New(st, nil, reminder.Config{}, nil),
		Channels:    mgr,
	}, cfg, Environment{BotName: "Muse", Location: time.UTC, MediaDir: h.mediaDir}, nil)
	return h
}

func (h *harness) message(from, content string) *channels.IncomingMessage {
	h.seq++
	return &channels.IncomingMessage{
		ID:       "m-" + strconv.Itoa(h.seq),
		Channel:  "fake",
		From:     from,
		FromName: "Ana",
		ChatID:   "chat-1",
		Type:     channels.MessageText,
		Content:  content,
	}
}

func (h *harness) attachment(from, content, filename, mimeType string, data []byte) *channels.IncomingMessage {
	msg := h.message(from, content)
	msg.Type = channels.MessageDocument
	msg.Media = &channels.MediaInfo{Filename: filename, MimeType: mimeType, FileSize: uint64(len(data))}
	h.ch.mu.Lock()
	h.ch.files[msg.ID] = data
	h.ch.mu.Unlock()
	return msg
}

func (h *harness) command(from, name string, opts map[string]string) *channels.IncomingMessage {
	msg := h.message(from, "")
	msg.Type = channels.MessageCommand
	msg.Command = &channels.Command{Name: name, Options: opts}
	return msg
}
