package tts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubProvider struct {
	voices []string
	err    error
}

func (s *stubProvider) Synthesize(_ context.Context, _, voice string) ([]byte, string, error) {
	s.voices = append(s.voices, voice)
	if s.err != nil {
		return nil, "", s.err
	}
	return []byte("audio"), "audio/mpeg", nil
}

func TestEdgeProviderSynthesize(t *testing.T) {
	t.Parallel()

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if ct := r.Header.Get("Content-Type"); ct != "application/ssml+xml" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte{0x00, 0x01, 0xFF, 0xFB, 0x90, 0x00})
	}))
	defer srv.Close()

	p := NewEdgeProvider(srv.URL, nil)
	audio, mime, err := p.Synthesize(context.Background(), "Fish & <chips>", "en-GB-SoniaNeural")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if mime != "audio/mpeg" {
		t.Errorf("mime = %q", mime)
	}
	if len(audio) != 4 || audio[0] != 0xFF {
		t.Errorf("framing not stripped: %x", audio)
	}
	if !strings.Contains(gotBody, "Fish &amp; &lt;chips&gt;") {
		t.Errorf("text not escaped: %s", gotBody)
	}
	if !strings.Contains(gotBody, "xml:lang='en-GB'") || !strings.Contains(gotBody, "name='en-GB-SoniaNeural'") {
		t.Errorf("voice not applied: %s", gotBody)
	}
}

func TestEdgeProviderHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, _, err := NewEdgeProvider(srv.URL, nil).Synthesize(context.Background(), "hi", "")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected HTTP 400 error, got %v", err)
	}
}

func TestOpenAIProviderMapsEdgeVoices(t *testing.T) {
	t.Parallel()

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Write([]byte("OggS"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "")
	_, mime, err := p.Synthesize(context.Background(), "hello", DefaultVoice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if mime != "audio/ogg" {
		t.Errorf("mime = %q", mime)
	}
	if !strings.Contains(body, `"voice":"nova"`) {
		t.Errorf("edge voice not mapped: %s", body)
	}
}

func TestFallbackProvider(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{err: errors.New("down")}
	secondary := &stubProvider{}
	p := NewFallbackProvider(primary, secondary, "nova", DefaultVoice, nil)

	audio, _, err := p.Synthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "audio" {
		t.Errorf("audio = %q", audio)
	}
	if primary.voices[0] != "nova" || secondary.voices[0] != DefaultVoice {
		t.Errorf("voices primary=%v secondary=%v", primary.voices, secondary.voices)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"default", Config{}, "*tts.EdgeProvider", false},
		{"auto without key", Config{Provider: "auto"}, "*tts.EdgeProvider", false},
		{"openai without key", Config{Provider: "openai"}, "", true},
		{"unknown", Config{Provider: "polly"}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.cfg, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := typeName(p); got != tc.want {
				t.Errorf("provider = %s, want %s", got, tc.want)
			}
		})
	}

	cfg := Config{Provider: "auto"}
	cfg.OpenAI.APIKey = "k"
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New auto: %v", err)
	}
	if _, ok := p.(*FallbackProvider); !ok {
		t.Errorf("auto with key = %T, want *FallbackProvider", p)
	}
}

func typeName(p Provider) string {
	switch p.(type) {
	case *EdgeProvider:
		return "*tts.EdgeProvider"
	case *OpenAIProvider:
		return "*tts.OpenAIProvider"
	case *FallbackProvider:
		return "*tts.FallbackProvider"
	}
	return "?"
}

func TestClipCountsRunes(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", maxInput+10)
	got := []rune(clip(long))
	if len(got) != maxInput {
		t.Errorf("clipped to %d runes, want %d", len(got), maxInput)
	}
	if clip("short") != "short" {
		t.Error("short text changed")
	}
}
