// Package discord implements the Discord channel for Muse using discordgo.
//
// Features:
//   - Receive text messages and the first attachment of each message
//   - Slash commands, deferred and answered through interaction followups
//   - Embed replies, file uploads and native voice messages
//   - Direct messages for reminders
//   - Guild and channel allowlists
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/jholhewres/muse/pkg/muse/channels"
)

// PlainTextLimit is the maximum length of a plain Discord message.
const PlainTextLimit = 2000

// interactionPrefix marks message IDs that refer to a deferred slash command.
const interactionPrefix = "interaction:"

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// GuildID registers slash commands on one guild (instant) instead of
	// globally. Empty means global.
	GuildID string `yaml:"guild_id"`

	// AllowedGuilds restricts which guild IDs the bot responds in.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`

	// Status is the activity shown on the bot profile.
	Status string `yaml:"status"`

	// APIBase overrides the REST base URL used for voice uploads.
	APIBase string `yaml:"api_base"`

	// MaxDownloadBytes caps attachment downloads. Larger files are refused.
	MaxDownloadBytes int64 `yaml:"max_download_bytes"`
}

// DefaultMaxDownloadBytes matches Discord's upload limit for regular users.
const DefaultMaxDownloadBytes = 25 << 20

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendTyping: true,
		Status:     "Chatting with you",
		APIBase:    "https://discord.com/api/v10",

		MaxDownloadBytes: DefaultMaxDownloadBytes,
	}
}

// Discord implements channels.Channel and its media, voice, direct,
// presence and command extensions.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	httpClient *http.Client

	// interactions keeps deferred slash commands until they are answered.
	interactions *InteractionRegistry

	// ephemeral lists commands whose answers are private to the invoker.
	ephemeral map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultConfig().APIBase
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	l := logger.With("component", "discord")
	return &Discord{
		cfg:          cfg,
		logger:       l,
		messages:     make(chan *channels.IncomingMessage, 256),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		interactions: NewInteractionRegistry(15*time.Minute, l),
		ephemeral:    make(map[string]bool),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	d.connected.Store(true)

	if d.cfg.Status != "" {
		if err := session.UpdateGameStatus(0, d.cfg.Status); err != nil {
			d.logger.Warn("discord: failed to set status", "error", err)
		}
	}

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.interactions.Stop()
	if s := d.getSession(); s != nil {
		s.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send delivers a message to a channel. When ReplyTo names a deferred
// interaction the message is sent as a followup of that interaction.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}

	embeds := toDiscordEmbeds(message.Embeds)

	if interaction, ok := d.lookupInteraction(message.ReplyTo); ok {
		for i, chunk := range splitContent(message.Content) {
			params := &discordgo.WebhookParams{Content: chunk}
			if i == 0 {
				params.Embeds = embeds
			}
			if message.Ephemeral {
				params.Flags = discordgo.MessageFlagsEphemeral
			}
			if _, err := s.FollowupMessageCreate(interaction, true, params, discordgo.WithContext(ctx)); err != nil {
				d.errorCount.Add(1)
				return fmt.Errorf("discord: followup: %w", err)
			}
		}
		return nil
	}

	for i, chunk := range splitContent(message.Content) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			msgSend.Embeds = embeds
			msgSend.Reference = d.reference(to, message.ReplyTo)
		}
		if _, err := s.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
		Details:       map[string]any{"pending_interactions": d.interactions.Len()},
	}
}

// SendMedia uploads a file with an optional caption.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}
	if len(media.Data) == 0 {
		return fmt.Errorf("discord: no media data")
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	file := &discordgo.File{Name: filename, ContentType: media.MimeType, Reader: bytes.NewReader(media.Data)}

	if interaction, ok := d.lookupInteraction(media.ReplyTo); ok {
		_, err := s.FollowupMessageCreate(interaction, true, &discordgo.WebhookParams{
			Content: media.Caption,
			Files:   []*discordgo.File{file},
		}, discordgo.WithContext(ctx))
		return err
	}

	msgSend := &discordgo.MessageSend{
		Content:   media.Caption,
		Files:     []*discordgo.File{file},
		Reference: d.reference(to, media.ReplyTo),
	}
	_, err := s.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx))
	return err
}

// DownloadMedia downloads the attachment of an incoming message, refusing
// anything over MaxDownloadBytes.
func (d *Discord) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.URL == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}
	limit := d.cfg.MaxDownloadBytes
	if msg.Media.FileSize > uint64(limit) {
		return nil, "", fmt.Errorf("%w: %d bytes", channels.ErrMediaTooLarge, msg.Media.FileSize)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Media.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("discord: download: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: HTTP %d", channels.ErrMediaDownloadFailed, resp.StatusCode)
	}

	if resp.ContentLength > limit {
		return nil, "", fmt.Errorf("%w: %d bytes", channels.ErrMediaTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("discord: reading attachment: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: over %d bytes", channels.ErrMediaTooLarge, limit)
	}
	return data, msg.Media.MimeType, nil
}

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	s := d.getSession()
	if s == nil || !d.cfg.SendTyping {
		return nil
	}
	return s.ChannelTyping(to, discordgo.WithContext(ctx))
}

// SendDirect opens (or reuses) a DM with the user and sends the message.
func (d *Discord) SendDirect(ctx context.Context, userID string, message *channels.OutgoingMessage) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}
	dm, err := s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: open DM with %s: %w", userID, err)
	}
	return d.Send(ctx, dm.ID, message)
}

// RegisterCommands replaces the bot's slash commands with specs.
func (d *Discord) RegisterCommands(ctx context.Context, specs []channels.CommandSpec) error {
	s := d.getSession()
	if s == nil {
		return channels.ErrChannelDisconnected
	}

	cmds := make([]*discordgo.ApplicationCommand, 0, len(specs))
	d.mu.Lock()
	for _, spec := range specs {
		cmds = append(cmds, toApplicationCommand(spec))
		d.ephemeral[spec.Name] = spec.Ephemeral
	}
	d.mu.Unlock()

	appID := s.State.User.ID
	if _, err := s.ApplicationCommandBulkOverwrite(appID, d.cfg.GuildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: registering commands: %w", err)
	}
	d.logger.Info("discord: slash commands registered", "count", len(cmds), "guild", d.cfg.GuildID)
	return nil
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if !d.allowed(m.GuildID, m.ChannelID) {
		return
	}

	name := m.Author.GlobalName
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	if name == "" {
		name = m.Author.Username
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  name,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   strings.TrimSpace(m.Content),
		Timestamp: m.Timestamp,
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		mediaType := channels.MediaType(att.Filename, att.ContentType)
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			URL:      att.URL,
			MimeType: att.ContentType,
			FileSize: uint64(att.Size),
			Filename: att.Filename,
		}
	}

	d.push(incoming)
}

// onInteractionCreate defers slash commands and forwards them as incoming
// messages. The reply arrives later through Send as a followup.
func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if !d.allowed(i.GuildID, i.ChannelID) {
		respondEphemeral(s, i, "This channel is not enabled.")
		return
	}

	data := i.ApplicationCommandData()
	user := i.User
	name := ""
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
		name = i.Member.Nick
	}
	if user == nil {
		respondEphemeral(s, i, "Could not identify user.")
		return
	}
	if name == "" {
		name = user.GlobalName
	}
	if name == "" {
		name = user.Username
	}

	d.mu.RLock()
	private := d.ephemeral[data.Name]
	d.mu.RUnlock()

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if private {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		d.logger.Warn("discord: failed to defer interaction", "command", data.Name, "error", err)
		d.errorCount.Add(1)
		return
	}

	id := interactionPrefix + i.ID
	d.interactions.Register(id, i.Interaction)

	options := make(map[string]string, len(data.Options))
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionInteger:
			options[opt.Name] = strconv.FormatInt(opt.IntValue(), 10)
		default:
			options[opt.Name] = opt.StringValue()
		}
	}

	d.push(&channels.IncomingMessage{
		ID:        id,
		Channel:   "discord",
		From:      user.ID,
		FromName:  name,
		ChatID:    i.ChannelID,
		IsGroup:   i.GuildID != "",
		Type:      channels.MessageCommand,
		Timestamp: time.Now(),
		Command:   &channels.Command{Name: data.Name, Options: options},
	})
}

func (d *Discord) push(msg *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())

	select {
	case d.messages <- msg:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// respondEphemeral sends an immediate response visible only to the user.
func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// ---------- Helpers ----------

func (d *Discord) getSession() *discordgo.Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.session
}

func (d *Discord) lookupInteraction(id string) (*discordgo.Interaction, bool) {
	if !strings.HasPrefix(id, interactionPrefix) {
		return nil, false
	}
	return d.interactions.Get(id)
}

// reference builds a reply reference for a regular message ID.
func (d *Discord) reference(channelID, messageID string) *discordgo.MessageReference {
	if messageID == "" || strings.HasPrefix(messageID, interactionPrefix) {
		return nil
	}
	return &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID}
}

func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !slices.Contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

func toDiscordEmbeds(embeds []*channels.Embed) []*discordgo.MessageEmbed {
	if len(embeds) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, me)
	}
	return out
}

func toApplicationCommand(spec channels.CommandSpec) *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        spec.Name,
		Description: spec.Description,
	}
	for _, opt := range spec.Options {
		typ := discordgo.ApplicationCommandOptionString
		if opt.Type == channels.OptionInteger {
			typ = discordgo.ApplicationCommandOptionInteger
		}
		cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
			Type:        typ,
			Name:        opt.Name,
			Description: opt.Description,
			Required:    opt.Required,
		})
	}
	return cmd
}

// splitContent splits text into plain-message sized parts. Empty text yields
// a single empty part so embed-only messages are still sent.
func splitContent(text string) []string {
	if utf8.RuneCountInString(text) <= PlainTextLimit {
		return []string{text}
	}
	return splitDiscordMessage(text, PlainTextLimit)
}

// splitDiscordMessage splits a message into chunks of at most maxLen runes,
// preferring newline boundaries in the second half of a chunk.
func splitDiscordMessage(text string, maxLen int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for j := maxLen - 1; j > maxLen/2; j-- {
			if runes[j] == '\n' {
				cutAt = j + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.VoiceChannel    = (*Discord)(nil)
	_ channels.DirectChannel   = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ channels.CommandChannel  = (*Discord)(nil)
)
