package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jholhewres/muse/pkg/muse/store"
	"github.com/jholhewres/muse/pkg/muse/web"
)

type fakeWeather struct {
	w   *web.Weather
	err error
}

func (f *fakeWeather) Current(context.Context, string) (*web.Weather, error) {
	return f.w, f.err
}

type fakePages struct {
	page *web.Page
	err  error
}

func (f *fakePages) Fetch(context.Context, string) (*web.Page, error) {
	return f.page, f.err
}

// last returns the most recent message sent to the fake channel.
func (h *harness) last(t *testing.T) string {
	t.Helper()
	texts := h.ch.texts()
	if len(texts) == 0 {
		t.Fatal("nothing was sent")
	}
	return texts[len(texts)-1]
}

func TestSpecsAreUnique(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})

	seen := map[string]bool{}
	for _, s := range h.d.Commands() {
		if seen[s.Name] {
			t.Errorf("duplicate command %q", s.Name)
		}
		seen[s.Name] = true
		if s.Description == "" {
			t.Errorf("command %q has no description", s.Name)
		}
	}
	for _, name := range []string{"text", "voice", "image", "on", "off", "reset", "memory", "imagine", "remind_add", "weather", "help"} {
		if !seen[name] {
			t.Errorf("missing command %q", name)
		}
	}
}

func TestModalityCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "voice", nil))
	if got := h.last(t); got != "I will now respond with voice! 🎤" {
		t.Errorf("reply = %q", got)
	}
	if u, _ := h.st.GetUser(ctx, "u1"); u.Modality != store.ModalityVoice {
		t.Errorf("modality = %s, want voice", u.Modality)
	}

	h.d.Handle(ctx, h.command("u1", "image", nil))
	if u, _ := h.st.GetUser(ctx, "u1"); u.Modality != store.ModalityImage {
		t.Errorf("modality = %s, want image", u.Modality)
	}
	h.d.Handle(ctx, h.command("u1", "text", nil))
	if u, _ := h.st.GetUser(ctx, "u1"); u.Modality != store.ModalityText {
		t.Errorf("modality = %s, want text", u.Modality)
	}
}

func TestOffOn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "off", nil))
	h.d.Handle(ctx, h.message("u1", "are you there?"))
	if got := h.ch.texts(); len(got) != 1 {
		t.Fatalf("sent %q, want only the /off reply", got)
	}

	h.d.Handle(ctx, h.command("u1", "on", nil))
	if got := h.last(t); got != "I'm active again in this channel 😄" {
		t.Errorf("reply = %q", got)
	}
	h.d.Handle(ctx, h.message("u1", "now?"))
	if got := h.ch.texts(); len(got) != 3 {
		t.Errorf("sent %d messages, want 3", len(got))
	}
}

func TestResetIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.message("u1", "remember me"))
	for range 2 {
		h.d.Handle(ctx, h.command("u1", "reset", nil))
		if got := h.last(t); got != "Chat history has been reset! 🧹" {
			t.Errorf("reply = %q", got)
		}
	}
	if n, _ := h.st.CountHistory(ctx, "u1"); n != 0 {
		t.Errorf("history has %d entries after reset", n)
	}
}

func TestMemoryCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "memory", nil))
	if got := h.last(t); got != DefaultMessages().MemoryEmpty {
		t.Errorf("empty memory reply = %q", got)
	}

	if _, err := h.st.AppendHistory(ctx, "u1", "I love hiking", "Nice!"); err != nil {
		t.Fatal(err)
	}
	h.text.answer = func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "I love hiking") {
			return "You enjoy hiking.", nil
		}
		return "ok", nil
	}
	h.d.Handle(ctx, h.command("u1", "memory", nil))
	if got := h.last(t); got != "You enjoy hiking." {
		t.Errorf("memory reply = %q", got)
	}
}

func TestImagineCommandIgnoresModality(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	h.images.images = nil
	h.images.err = errors.New("quota")
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "imagine", map[string]string{"prompt": "a red fox"}))

	if h.text.count(markRender) != 1 {
		t.Errorf("render prompt asked %d times, want 1", h.text.count(markRender))
	}
	if len(h.ch.texts()) != 1 {
		t.Errorf("sent %q, want one failure caption", h.ch.texts())
	}
	hist, _ := h.st.History(ctx, "u1")
	if len(hist) != 1 || hist[0].Prompt != "a red fox" {
		t.Errorf("history = %+v", hist)
	}
	if u, _ := h.st.GetUser(ctx, "u1"); u.Modality != store.ModalityText {
		t.Errorf("imagine changed modality to %s", u.Modality)
	}
}

func TestRemindCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "remind_list", nil))
	if got := h.last(t); got != "📭 You have no active reminders." {
		t.Errorf("empty list reply = %q", got)
	}
	if !h.ch.sent[len(h.ch.sent)-1].Ephemeral {
		t.Error("reminder list should be ephemeral")
	}

	h.d.Handle(ctx, h.command("u1", "remind_add", map[string]string{
		"day": "1", "month": "3", "year": "2031", "hour": "9", "minute": "30",
		"timezone_offset": "2", "message": "dentist",
	}))
	got := h.last(t)
	if !strings.Contains(got, "2031-03-01 09:30 (UTC+2)") || !strings.Contains(got, "dentist") {
		t.Errorf("add reply = %q", got)
	}
	rs, _ := h.st.ListReminders(ctx, "u1")
	if len(rs) != 1 || rs[0].UTCDate != "2031-03-01 07:30" || rs[0].TimezoneOffset != 2 {
		t.Fatalf("stored reminders = %+v", rs)
	}

	h.d.Handle(ctx, h.command("u1", "remind_list", nil))
	list := h.ch.sent[len(h.ch.sent)-1]
	if len(list.Embeds) != 1 || len(list.Embeds[0].Fields) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if f := list.Embeds[0].Fields[0]; f.Name != "Reminder #1" || !strings.Contains(f.Value, "2031-03-01 09:30 (UTC+2)") {
		t.Errorf("field = %+v", f)
	}

	h.d.Handle(ctx, h.command("u1", "remind_delete", map[string]string{"index": "2"}))
	if got := h.last(t); got != "❌ Invalid reminder index." {
		t.Errorf("bad index reply = %q", got)
	}
	h.d.Handle(ctx, h.command("u1", "remind_delete", map[string]string{"index": "1"}))
	if got := h.last(t); got != "🗑️ Reminder #1 deleted!" {
		t.Errorf("delete reply = %q", got)
	}
	if rs, _ := h.st.ListReminders(ctx, "u1"); len(rs) != 0 {
		t.Errorf("reminders left = %+v", rs)
	}
}

func TestRemindAddRejectsInvalidDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	cases := []map[string]string{
		{"day": "31", "month": "2", "year": "2031", "hour": "9", "minute": "0", "timezone_offset": "0", "message": "x"},
		{"day": "1", "month": "1", "year": "2031", "hour": "25", "minute": "0", "timezone_offset": "0", "message": "x"},
		{"day": "1", "month": "1", "year": "2031", "hour": "9", "minute": "0", "timezone_offset": "20", "message": "x"},
		{"day": "soon", "month": "1", "year": "2031", "hour": "9", "minute": "0", "timezone_offset": "0", "message": "x"},
	}
	for _, opts := range cases {
		h.d.Handle(ctx, h.command("u1", "remind_add", opts))
		if got := h.last(t); !strings.HasPrefix(got, "❌ Invalid date or time provided") {
			t.Errorf("reply for %v = %q", opts, got)
		}
	}
	if rs, _ := h.st.ListReminders(ctx, "u1"); len(rs) != 0 {
		t.Errorf("invalid reminders were stored: %+v", rs)
	}
}

func TestWeatherCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "weather", map[string]string{"city": "Lisbon"}))
	if got := h.last(t); got != DefaultMessages().CommandFailed {
		t.Errorf("reply without weather source = %q", got)
	}

	h.d.deps.Weather = &fakeWeather{err: web.ErrCityNotFound}
	h.d.Handle(ctx, h.command("u1", "weather", map[string]string{"city": "Atlantis"}))
	if got := h.last(t); got != "❌ Sorry, no weather found for `Atlantis`." {
		t.Errorf("unknown city reply = %q", got)
	}

	h.d.deps.Weather = &fakeWeather{w: &web.Weather{
		City: "Lisbon", Description: "clear sky", TempC: 21.5, FeelsLikeC: 20, Humidity: 40, WindSpeed: 3.2,
	}}
	h.d.Handle(ctx, h.command("u1", "weather", map[string]string{"city": "Lisbon"}))
	e := h.ch.sent[len(h.ch.sent)-1].Embeds[0]
	if e.Title != "🌍 Lisbon Weather Forecast" || e.Fields[0].Value != "21.5°C" || e.Fields[2].Value != "40%" {
		t.Errorf("weather embed = %+v", e)
	}
	hist, _ := h.st.History(ctx, "u1")
	if len(hist) != 1 || hist[0].Response != "Weather in Lisbon: clear sky" {
		t.Errorf("history = %+v", hist)
	}
}

func TestSummarizeURLCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.deps.Pages = &fakePages{err: web.ErrNoContent}
	h.d.Handle(ctx, h.command("u1", "summarize_url", map[string]string{"url": "https://example.com"}))
	if got := h.last(t); got != DefaultMessages().PageEmpty {
		t.Errorf("empty page reply = %q", got)
	}

	h.d.deps.Pages = &fakePages{page: &web.Page{URL: "https://example.com/", Title: "Example", Content: "Go is fun."}}
	h.text.answer = func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "Go is fun.") {
			return "A page about Go.", nil
		}
		return "ok", nil
	}
	h.d.Handle(ctx, h.command("u1", "summarize_url", map[string]string{"url": "https://example.com"}))
	if got := h.last(t); got != "A page about Go." {
		t.Errorf("summary reply = %q", got)
	}
	hist, _ := h.st.History(ctx, "u1")
	if len(hist) != 1 || hist[0].Prompt != "https://example.com/" {
		t.Errorf("history = %+v", hist)
	}
}

func TestHelpAndUnknownCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{})
	ctx := context.Background()

	h.d.Handle(ctx, h.command("u1", "help", nil))
	if got := h.last(t); got != "Here are the commands you can use with `Muse`:" {
		t.Errorf("help = %q", got)
	}
	h.d.Handle(ctx, h.command("u1", "dance", nil))
	if got := h.last(t); got != "Unknown command /dance." {
		t.Errorf("unknown = %q", got)
	}
}
