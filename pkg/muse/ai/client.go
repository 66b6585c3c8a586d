// Package ai implements the generative backends Muse talks to: chat
// completions with optional vision input, image generation and Whisper
// transcription. Every backend speaks the OpenAI-compatible HTTP API, which
// Gemini and Groq both expose, so one client covers text, vision and images
// and a second one covers audio.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for the Gemini OpenAI-compatible endpoint.
const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultModel      = "gemini-2.0-flash"
	DefaultImageModel = "imagen-3.0-generate-002"
)

// Config configures the text, vision and image client.
type Config struct {
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	VisionModel string   `yaml:"vision_model"`
	ImageModel  string   `yaml:"image_model"`
	Temperature *float64 `yaml:"temperature"`

	// Transcription points at a Whisper-compatible endpoint (Groq by default).
	Transcription TranscriptionConfig `yaml:"transcription"`
}

// Image is one generated picture.
type Image struct {
	Data     []byte
	MimeType string
}

// Client handles communication with the OpenAI-compatible provider API.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	visionModel string
	imageModel  string
	temperature *float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a client from config. Per-call deadlines come from the
// caller's context; the HTTP timeout is only a safety net.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	vision := cfg.VisionModel
	if vision == "" {
		vision = model
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = DefaultImageModel
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		visionModel: vision,
		imageModel:  imageModel,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      logger.With("component", "llm"),
	}
}

// ---------- Wire Types (OpenAI-compatible) ----------

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// chatMessage content is a string or a []contentPart.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// ---------- Public Methods ----------

// Complete sends prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, c.model, []chatMessage{{Role: "user", Content: prompt}})
}

// CompleteWithVision asks the vision model about an image.
func (c *Client) CompleteWithVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	parts := []contentPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
	}
	return c.complete(ctx, c.visionModel, []chatMessage{{Role: "user", Content: parts}})
}

// GenerateImage returns zero or more generated images for prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]Image, error) {
	body, err := c.post(ctx, "generate image", "/images/generations", imageRequest{
		Model:          c.imageModel,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing image response: %w", err)
	}

	images := make([]Image, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.B64JSON == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			c.logger.Warn("skipping undecodable image part", "error", err)
			continue
		}
		images = append(images, Image{Data: raw, MimeType: http.DetectContentType(raw)})
	}
	c.logger.Info("image generation done", "model", c.imageModel, "images", len(images))
	return images, nil
}

func (c *Client) complete(ctx context.Context, model string, messages []chatMessage) (string, error) {
	start := time.Now()
	body, err := c.post(ctx, "chat completion", "/chat/completions", chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return "", &APIError{Kind: classifyAPIError(0, chatResp.Error.Message), Body: chatResp.Error.Message, Op: "chat completion"}
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	choice := chatResp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		if choice.FinishReason == "content_filter" || choice.FinishReason == "safety" {
			return "", &APIError{Kind: ErrorBlocked, Body: choice.FinishReason, Op: "chat completion"}
		}
		return "", ErrEmptyResponse
	}

	c.logger.Info("chat completion done",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
	)
	return content, nil
}

// post sends a JSON request and returns the body of a 200 response.
func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &APIError{Kind: ErrorAuth, Body: "API key not configured (set GEMINI_API_KEY)", Op: op}
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("sending request", "op", op, "endpoint", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := classifyAPIError(resp.StatusCode, string(respBody))
		c.logger.Error("API error",
			"op", op,
			"status", resp.StatusCode,
			"kind", kind,
			"body", truncate(string(respBody), 500),
		)
		return nil, &APIError{Kind: kind, StatusCode: resp.StatusCode, Body: string(respBody), Op: op}
	}
	return respBody, nil
}
