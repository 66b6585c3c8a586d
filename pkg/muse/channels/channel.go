// Package channels defines the interfaces and types shared by Muse chat
// channels. The Discord gateway and the local console both implement
// Channel so the dispatcher can treat them the same way.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageCommand  MessageType = "command"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "discord", "console").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with file upload and attachment download.
type MediaChannel interface {
	Channel

	// SendMedia uploads a file, optionally with a caption.
	SendMedia(ctx context.Context, to string, media *MediaMessage) error

	// DownloadMedia returns the raw bytes and MIME type of the attachment.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// VoiceChannel is implemented by channels that can deliver native voice
// messages rather than plain audio files.
type VoiceChannel interface {
	Channel

	SendVoice(ctx context.Context, to string, voice *VoiceMessage) error
}

// DirectChannel can open a private conversation with a user. Used for
// reminders, which have no originating chat.
type DirectChannel interface {
	Channel

	SendDirect(ctx context.Context, userID string, message *OutgoingMessage) error
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SendTyping sends a "typing..." indicator to the chat.
	SendTyping(ctx context.Context, to string) error
}

// CommandChannel registers slash commands with the platform.
type CommandChannel interface {
	Channel

	RegisterCommands(ctx context.Context, specs []CommandSpec) error
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel. Slash
	// commands use "interaction:<id>" so replies can be routed as followups.
	ID string

	// Channel identifies the source channel.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name.
	FromName string

	// ChatID is the guild channel or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a guild channel.
	IsGroup bool

	// IsBot marks messages authored by bots, including ourselves.
	IsBot bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// Media describes the first attachment, if any.
	Media *MediaInfo

	// Command is set when the message is a slash command invocation.
	Command *Command
}

// Command is a parsed slash command invocation.
type Command struct {
	Name    string
	Options map[string]string
}

// Option returns the named option or "".
func (c *Command) Option(name string) string {
	if c == nil || c.Options == nil {
		return ""
	}
	return c.Options[name]
}

// OptionType is the value type of a command option.
type OptionType int

const (
	OptionString OptionType = iota
	OptionInteger
)

// CommandOption describes one command argument.
type CommandOption struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
}

// CommandSpec describes a slash command exposed by the assistant.
type CommandSpec struct {
	Name        string
	Description string
	Options     []CommandOption

	// Ephemeral answers are visible only to the invoking user.
	Ephemeral bool
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the plain text content of the message.
	Content string

	// Embeds are styled blocks rendered after Content.
	Embeds []*Embed

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Ephemeral restricts visibility to the invoking user where supported.
	Ephemeral bool
}

// Embed is a styled message block.
type Embed struct {
	Title       string
	Description string
	Color       int
	Footer      string
	Fields      []EmbedField
}

// EmbedField is a name/value pair inside an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// MediaMessage represents a file to be sent.
type MediaMessage struct {
	// Type is the media type.
	Type MessageType

	// Data is the raw file bytes.
	Data []byte

	// MimeType is the MIME type (e.g. "image/png").
	MimeType string

	// Filename is the name shown to the recipient.
	Filename string

	// Caption is the text accompanying the file.
	Caption string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// VoiceMessage is a synthesized audio clip delivered as a voice note.
type VoiceMessage struct {
	// Data is the encoded audio (OGG/Opus or MP3).
	Data []byte

	// MimeType of Data.
	MimeType string

	// Duration is the clip length; zero lets the channel estimate it.
	Duration time.Duration

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	Filename string
	FileSize uint64
	URL      string

	// Path is set by channels that read attachments from the local disk.
	Path string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrSendFailed          = errors.New("failed to send message")
	ErrMediaNotSupported   = errors.New("media not supported by this channel")
	ErrMediaDownloadFailed = errors.New("failed to download media")
	ErrMediaTooLarge       = errors.New("media exceeds the download limit")
)
