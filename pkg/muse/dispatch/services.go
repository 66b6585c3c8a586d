package dispatch

import (
	"context"
	"time"

	"github.com/jholhewres/muse/pkg/muse/ai"
	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/reminder"
	"github.com/jholhewres/muse/pkg/muse/store"
	"github.com/jholhewres/muse/pkg/muse/web"
)

// TextModel answers prompts, optionally about an image.
type TextModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// ImageModel renders images from a prompt.
type ImageModel interface {
	GenerateImage(ctx context.Context, prompt string) ([]ai.Image, error)
}

// Transcriber turns recorded speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer turns text into speech. Implemented by tts providers.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	EnsureUser(ctx context.Context, userID, nickname string) error
	GetUser(ctx context.Context, userID string) (*store.User, error)
	SetModality(ctx context.Context, userID string, m store.Modality) error
	SetActive(ctx context.Context, userID string, active bool) error
	IncrementResponses(ctx context.Context, userID string) (int, error)
	AppendHistory(ctx context.Context, userID, prompt, response string) (int64, error)
	RecentHistory(ctx context.Context, userID string, limit int) ([]store.HistoryEntry, error)
	RecentPrompts(ctx context.Context, userID string, n int) ([]store.HistoryEntry, error)
	FullPromptText(ctx context.Context, userID string) (string, error)
	DeleteHistory(ctx context.Context, userID string, ids []int64) (int, error)
	ResetHistory(ctx context.Context, userID string) (int, error)
}

// PageFetcher loads the readable content of a web page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*web.Page, error)
}

// WeatherSource reports the current weather of a city.
type WeatherSource interface {
	Current(ctx context.Context, city string) (*web.Weather, error)
}

// Reminders manages per-user reminders in local time.
type Reminders interface {
	Add(ctx context.Context, userID string, local reminder.LocalTime, message string) (time.Time, error)
	List(ctx context.Context, userID string) ([]reminder.View, error)
	Delete(ctx context.Context, userID string, position int) (bool, error)
}

// ChannelLookup resolves the channel a message came from.
type ChannelLookup interface {
	Channel(name string) (channels.Channel, bool)
}
