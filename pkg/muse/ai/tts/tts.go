// Package tts turns reply text into speech. Edge TTS is the free default,
// OpenAI TTS is optional, and a fallback provider chains the two.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultVoice is used when voice detection fails or yields nothing.
const DefaultVoice = "en-US-JennyNeural"

// maxInput is the longest text either backend accepts.
const maxInput = 4096

// ErrEmptyAudio is returned when a backend answered without audio.
var ErrEmptyAudio = errors.New("tts: empty audio response")

// Provider is the interface for TTS backends.
type Provider interface {
	// Synthesize returns audio bytes and their MIME type.
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// Config selects and configures the speech provider.
type Config struct {
	// Provider is "edge", "openai" or "auto" (OpenAI first, Edge fallback).
	Provider string `yaml:"provider"`
	Voice    string `yaml:"voice"`
	OpenAI   struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Voice   string `yaml:"voice"`
	} `yaml:"openai"`
	EdgeEndpoint string `yaml:"edge_endpoint"`
}

// New builds the provider named by cfg.
func New(cfg Config, logger *slog.Logger) (Provider, error) {
	edge := NewEdgeProvider(cfg.EdgeEndpoint, logger)
	switch strings.ToLower(cfg.Provider) {
	case "", "edge":
		return edge, nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, errors.New("tts: openai provider needs an api key")
		}
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
	case "auto":
		if cfg.OpenAI.APIKey == "" {
			return edge, nil
		}
		openai := NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
		return NewFallbackProvider(openai, edge, cfg.OpenAI.Voice, cfg.Voice, logger), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", cfg.Provider)
	}
}

// clip shortens text to maxInput runes.
func clip(text string) string {
	r := []rune(text)
	if len(r) <= maxInput {
		return text
	}
	return string(r[:maxInput-3]) + "..."
}

// ---------- OpenAI ----------

// OpenAIProvider implements TTS via the OpenAI speech API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates an OpenAI TTS provider.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "tts-1"
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Synthesize returns Opus audio. Edge voice names (xx-XX-NameNeural) are
// not OpenAI voices and map to "nova".
func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" || strings.HasSuffix(voice, "Neural") {
		voice = "nova"
	}

	body, err := json.Marshal(map[string]any{
		"model":           p.model,
		"input":           clip(text),
		"voice":           voice,
		"response_format": "opus",
	})
	if err != nil {
		return nil, "", fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", ErrEmptyAudio
	}
	return audio, "audio/ogg", nil
}

// ---------- Edge ----------

// EdgeEndpoint is the Microsoft Edge read-aloud synthesis endpoint.
const EdgeEndpoint = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/naturaltts/v1"

// EdgeProvider implements TTS via Microsoft Edge's speech service, which
// serves the Azure neural voices (en-US-JennyNeural, en-US-GuyNeural,
// en-GB-SoniaNeural, ...).
type EdgeProvider struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewEdgeProvider creates an Edge TTS provider. An empty endpoint uses
// EdgeEndpoint.
func NewEdgeProvider(endpoint string, logger *slog.Logger) *EdgeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if endpoint == "" {
		endpoint = EdgeEndpoint
	}
	return &EdgeProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "edge-tts"),
	}
}

// Synthesize returns MP3 audio.
func (p *EdgeProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" {
		voice = DefaultVoice
	}

	ssml := fmt.Sprintf(`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'><prosody pitch='+0Hz' rate='+0%%' volume='+0%%'>%s</prosody></voice></speak>`,
		voiceLang(voice), escapeXML(voice), escapeXML(clip(text)))

	url := p.endpoint + "?TrustedClientToken=6A5AA1D4EAFF4E9FB37E23D68491D6F4&ConnectionId=gen&Enc=mp3&OutputFormat=audio-24khz-48kbitrate-mono-mp3"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(ssml))
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0")
	req.Header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("edge-tts: HTTP %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", ErrEmptyAudio
	}

	audio = stripEdgeHeaders(audio)
	p.logger.Debug("speech synthesized", "voice", voice, "bytes", len(audio), "duration_ms", time.Since(start).Milliseconds())
	return audio, "audio/mpeg", nil
}

// voiceLang extracts "en-US" from "en-US-JennyNeural".
func voiceLang(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

// stripEdgeHeaders drops binary framing some responses carry before the
// first MP3 frame.
func stripEdgeHeaders(data []byte) []byte {
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && (data[i+1]&0xE0) == 0xE0 {
			return data[i:]
		}
	}
	if len(data) > 2 {
		headerLen := int(binary.BigEndian.Uint16(data[:2]))
		if headerLen > 0 && headerLen < len(data) {
			return data[headerLen:]
		}
	}
	return data
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func escapeXML(text string) string {
	return xmlEscaper.Replace(text)
}

// ---------- Fallback ----------

// FallbackProvider tries primary and falls back to secondary on failure.
type FallbackProvider struct {
	primary        Provider
	secondary      Provider
	primaryVoice   string
	secondaryVoice string
	logger         *slog.Logger
}

// NewFallbackProvider creates a provider that tries primary first.
func NewFallbackProvider(primary, secondary Provider, primaryVoice, secondaryVoice string, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:        primary,
		secondary:      secondary,
		primaryVoice:   primaryVoice,
		secondaryVoice: secondaryVoice,
		logger:         logger.With("component", "tts-fallback"),
	}
}

// Synthesize tries the primary provider, then the secondary.
func (p *FallbackProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	primaryV := p.primaryVoice
	if primaryV == "" {
		primaryV = voice
	}
	audio, mime, err := p.primary.Synthesize(ctx, text, primaryV)
	if err == nil {
		return audio, mime, nil
	}

	p.logger.Warn("primary TTS failed, trying fallback", "error", err)

	secondaryV := voice
	if secondaryV == "" {
		secondaryV = p.secondaryVoice
	}
	return p.secondary.Synthesize(ctx, text, secondaryV)
}
