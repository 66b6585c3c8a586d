package dispatch

import "time"

// Timeouts bound every backend call. No call is retried.
type Timeouts struct {
	// Reply bounds the main text answer.
	Reply time.Duration `yaml:"reply"`

	// Helper bounds side calls: short summaries, captions, voice style,
	// memory pruning, vision, transcription and the fun commands.
	Helper time.Duration `yaml:"helper"`

	// Image bounds image generation.
	Image time.Duration `yaml:"image"`

	// Document bounds document analysis.
	Document time.Duration `yaml:"document"`
}

// Config configures the dispatch pipeline.
type Config struct {
	Timeouts Timeouts `yaml:"timeouts"`
	Messages Messages `yaml:"messages"`

	// EmbedChunkSize is the rune length of one embed description.
	EmbedChunkSize int `yaml:"embed_chunk_size"`

	// PlainTextLimit is the rune length of one plain message, used when an
	// embed is rejected.
	PlainTextLimit int `yaml:"plain_text_limit"`

	// HistoryLimit is how many past exchanges go into a reply prompt.
	HistoryLimit int `yaml:"history_limit"`

	// MemoryInterval runs memory pruning every N responses.
	MemoryInterval int `yaml:"memory_interval"`

	// MemoryWindow is how many recent prompts pruning looks at.
	MemoryWindow int `yaml:"memory_window"`

	// ImageHistory is how many past prompts shape an image prompt.
	ImageHistory int `yaml:"image_history"`

	// DefaultVoice is used when voice detection fails.
	DefaultVoice string `yaml:"default_voice"`
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		Timeouts: Timeouts{
			Reply:    25 * time.Second,
			Helper:   20 * time.Second,
			Image:    10 * time.Second,
			Document: 10 * time.Second,
		},
		Messages:       DefaultMessages(),
		EmbedChunkSize: 3900,
		PlainTextLimit: 2000,
		HistoryLimit:   20,
		MemoryInterval: 10,
		MemoryWindow:   10,
		ImageHistory:   10,
		DefaultVoice:   "en-US-JennyNeural",
	}
}

// normalize replaces zero values with defaults.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Timeouts.Reply <= 0 {
		c.Timeouts.Reply = d.Timeouts.Reply
	}
	if c.Timeouts.Helper <= 0 {
		c.Timeouts.Helper = d.Timeouts.Helper
	}
	if c.Timeouts.Image <= 0 {
		c.Timeouts.Image = d.Timeouts.Image
	}
	if c.Timeouts.Document <= 0 {
		c.Timeouts.Document = d.Timeouts.Document
	}
	if c.EmbedChunkSize <= 0 {
		c.EmbedChunkSize = d.EmbedChunkSize
	}
	if c.PlainTextLimit <= 0 {
		c.PlainTextLimit = d.PlainTextLimit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.MemoryInterval <= 0 {
		c.MemoryInterval = d.MemoryInterval
	}
	if c.MemoryWindow <= 0 {
		c.MemoryWindow = d.MemoryWindow
	}
	if c.ImageHistory <= 0 {
		c.ImageHistory = d.ImageHistory
	}
	if c.DefaultVoice == "" {
		c.DefaultVoice = d.DefaultVoice
	}
	c.Messages = c.Messages.withDefaults()
	return c
}
