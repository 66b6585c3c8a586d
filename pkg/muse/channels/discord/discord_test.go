package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/muse/pkg/muse/channels"
)

func TestSplitDiscordMessage(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("ação ", 1000) // multi-byte runes
	chunks := splitDiscordMessage(text, PlainTextLimit)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	var joined strings.Builder
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > PlainTextLimit {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		joined.WriteString(c)
	}
	if joined.String() != text {
		t.Error("chunks do not reconstruct the text")
	}

	if got := splitContent(""); len(got) != 1 || got[0] != "" {
		t.Errorf("splitContent(\"\") = %q", got)
	}
}

func TestInteractionRegistry_Expiry(t *testing.T) {
	t.Parallel()
	r := NewInteractionRegistry(time.Minute, nil)
	defer r.Stop()

	r.Register("interaction:1", &discordgo.Interaction{ID: "1"})
	if _, ok := r.Get("interaction:1"); !ok {
		t.Fatal("expected registered interaction")
	}
	if n := r.cleanupExpired(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("expected 1 expired entry, got %d", n)
	}
	if _, ok := r.Get("interaction:1"); ok {
		t.Error("expired interaction still returned")
	}
	r.Stop()
}

func TestSendVoice_TwoStepUpload(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		uploaded []byte
		message  map[string]any
	)
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /channels/c1/attachments", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bot tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"attachments": []map[string]any{{"id": "0", "upload_url": srv.URL + "/upload", "upload_filename": "up/voice.ogg"}},
		})
	})
	mux.HandleFunc("PUT /upload", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploaded = b
		mu.Unlock()
	})
	mux.HandleFunc("POST /channels/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&message)
		w.Write([]byte(`{"id":"m1"}`))
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	d := New(Config{Token: "tok", APIBase: srv.URL}, nil)
	defer d.interactions.Stop()
	d.session = &discordgo.Session{}

	err := d.SendVoice(context.Background(), "c1", &channels.VoiceMessage{
		Data:     []byte("OggS-audio"),
		MimeType: "audio/ogg",
		ReplyTo:  "m0",
	})
	if err != nil {
		t.Fatalf("SendVoice failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if string(uploaded) != "OggS-audio" {
		t.Errorf("uploaded %q", uploaded)
	}
	if flags, _ := message["flags"].(float64); int(flags) != 8192 {
		t.Errorf("expected voice flag 8192, got %v", message["flags"])
	}
	atts, _ := message["attachments"].([]any)
	if len(atts) != 1 {
		t.Fatalf("expected one attachment, got %v", message["attachments"])
	}
	att := atts[0].(map[string]any)
	if att["uploaded_filename"] != "up/voice.ogg" {
		t.Errorf("unexpected uploaded_filename %v", att["uploaded_filename"])
	}
	if ref, _ := message["message_reference"].(map[string]any); ref["message_id"] != "m0" {
		t.Errorf("missing reply reference: %v", message["message_reference"])
	}
}

func TestSendVoice_Disconnected(t *testing.T) {
	t.Parallel()
	d := New(Config{Token: "tok"}, nil)
	defer d.interactions.Stop()
	err := d.SendVoice(context.Background(), "c1", &channels.VoiceMessage{Data: []byte("x")})
	if err != channels.ErrChannelDisconnected {
		t.Errorf("expected ErrChannelDisconnected, got %v", err)
	}
}

func TestDownloadMedia_Limit(t *testing.T) {
	t.Parallel()
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		switch r.URL.Path {
		case "/small":
			io.WriteString(w, "hello")
		case "/sized":
			io.WriteString(w, strings.Repeat("x", 20))
		case "/streamed":
			// Flushing first drops Content-Length, so only the body read can
			// catch the size.
			w.(http.Flusher).Flush()
			io.WriteString(w, strings.Repeat("x", 20))
		}
	}))
	defer srv.Close()

	d := New(Config{Token: "tok", MaxDownloadBytes: 8}, nil)
	defer d.interactions.Stop()
	ctx := context.Background()
	msg := func(path string, size uint64) *channels.IncomingMessage {
		return &channels.IncomingMessage{Media: &channels.MediaInfo{URL: srv.URL + path, MimeType: "text/plain", FileSize: size}}
	}

	data, mime, err := d.DownloadMedia(ctx, msg("/small", 5))
	if err != nil || string(data) != "hello" || mime != "text/plain" {
		t.Fatalf("small download = %q, %q, %v", data, mime, err)
	}

	for _, tc := range []struct {
		path string
		size uint64
	}{
		{"/declared", 100},
		{"/sized", 0},
		{"/streamed", 0},
	} {
		if _, _, err := d.DownloadMedia(ctx, msg(tc.path, tc.size)); !errors.Is(err, channels.ErrMediaTooLarge) {
			t.Errorf("%s: err = %v, want ErrMediaTooLarge", tc.path, err)
		}
	}
	if _, ok := hits.Load("/declared"); ok {
		t.Error("declared oversize attachment was still requested")
	}
}

func TestEstimateDuration(t *testing.T) {
	t.Parallel()
	if got := estimateDuration(60000, "audio/mpeg"); got != 10*time.Second {
		t.Errorf("mp3 estimate = %v", got)
	}
	if got := estimateDuration(10, "audio/ogg"); got != time.Second {
		t.Errorf("minimum estimate = %v", got)
	}
}
