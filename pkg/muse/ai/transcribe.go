package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// TranscriptionConfig configures the Whisper-compatible endpoint.
type TranscriptionConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Prompt   string `yaml:"prompt"`
}

// Transcriber turns audio into text using a Whisper-compatible API.
type Transcriber struct {
	cfg        TranscriptionConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTranscriber creates a transcriber. Defaults target Groq.
func NewTranscriber(cfg TranscriptionConfig, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	return &Transcriber{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With("component", "transcriber"),
	}
}

// Transcribe sends audio to the transcription endpoint and returns the
// trimmed transcript, which may be empty when nothing was recognized.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if t.cfg.APIKey == "" {
		return "", &APIError{Kind: ErrorAuth, Body: "transcription API key not configured (set GROQ_API_KEY)", Op: "transcribe"}
	}
	if filename == "" {
		filename = "audio.ogg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio data: %w", err)
	}

	fields := map[string]string{
		"model":           t.cfg.Model,
		"response_format": "json",
		"temperature":     "0",
		"language":        t.cfg.Language,
		"prompt":          t.cfg.Prompt,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("writing %s field: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.logger.Error("transcription API error", "status", resp.StatusCode, "body", truncate(string(respBody), 500))
		return "", &APIError{Kind: classifyAPIError(resp.StatusCode, string(respBody)), StatusCode: resp.StatusCode, Body: string(respBody), Op: "transcribe"}
	}

	// Response is either plain text or JSON with a "text" field.
	text := string(respBody)
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		var j struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(respBody, &j); err == nil {
			text = j.Text
		}
	}

	t.logger.Info("audio transcription done",
		"duration_ms", time.Since(start).Milliseconds(),
		"transcript_len", len(text),
	)
	return strings.TrimSpace(text), nil
}
