package dispatch

// commands.go implements the slash commands. Discord registers them as
// application commands; the console accepts them as "/name args" lines.
//
//	/text /voice /image        - Choose the reply modality
//	/on /off                   - Activate or mute the bot for the user
//	/reset                     - Clear conversation history
//	/memory                    - Summarize what the bot remembers
//	/imagine <prompt>          - Generate an image
//	/promptlab <idea>          - Expand an idea into an image prompt
//	/getfacts /quote           - Fact or quote of the moment
//	/explain_code <code>       - Explain a snippet
//	/remind_add ...            - Set a reminder in local time
//	/remind_list               - List reminders
//	/remind_delete <index>     - Delete a reminder
//	/weather <city>            - Current weather
//	/summarize_url <url>       - Summarize a web page
//	/help /about

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/reminder"
	"github.com/jholhewres/muse/pkg/muse/store"
	"github.com/jholhewres/muse/pkg/muse/web"
)

// Commands executes slash commands against the dispatcher's collaborators.
type Commands struct {
	d      *Dispatcher
	logger *slog.Logger
}

func newCommands(d *Dispatcher, logger *slog.Logger) *Commands {
	return &Commands{d: d, logger: logger.With("component", "commands")}
}

func str(name, desc string) channels.CommandOption {
	return channels.CommandOption{Name: name, Description: desc, Type: channels.OptionString, Required: true}
}

func num(name, desc string) channels.CommandOption {
	return channels.CommandOption{Name: name, Description: desc, Type: channels.OptionInteger, Required: true}
}

// Specs returns the command definitions.
func (c *Commands) Specs() []channels.CommandSpec {
	return []channels.CommandSpec{
		{Name: "text", Description: "💬 Reply with text"},
		{Name: "voice", Description: "🎤 Reply with voice messages"},
		{Name: "image", Description: "🖼️ Reply with generated images"},
		{Name: "on", Description: "😄 Activate the bot for you"},
		{Name: "off", Description: "😶 Mute the bot for you"},
		{Name: "reset", Description: "🧹 Reset your chat history"},
		{Name: "memory", Description: "🧠 Summarize what the bot remembers about you"},
		{Name: "imagine", Description: "🎨 Generate an image from a description",
			Options: []channels.CommandOption{str("prompt", "What to draw")}},
		{Name: "promptlab", Description: "✨ Turn an idea into a vivid image prompt",
			Options: []channels.CommandOption{str("prompt", "Your idea")}},
		{Name: "getfacts", Description: "📚 Get an AI fact of the day"},
		{Name: "quote", Description: "🧠 Get a quote of the moment"},
		{Name: "explain_code", Description: "💡 Explain a piece of code",
			Options: []channels.CommandOption{str("code", "The code to explain")}},
		{Name: "remind_add", Description: "📅 Set a reminder in your local time",
			Options: []channels.CommandOption{
				num("day", "Day of month"),
				num("month", "Month (1-12)"),
				num("year", "Year"),
				num("hour", "Hour (0-23)"),
				num("minute", "Minute (0-59)"),
				num("timezone_offset", "Your UTC offset in hours, e.g. 4 or -5"),
				str("message", "What to remind you about"),
			}},
		{Name: "remind_list", Description: "📝 List your reminders", Ephemeral: true},
		{Name: "remind_delete", Description: "🗑️ Delete a reminder", Ephemeral: true,
			Options: []channels.CommandOption{num("index", "Reminder number from /remind_list")}},
		{Name: "weather", Description: "🌤️ Check the current weather of a city",
			Options: []channels.CommandOption{str("city", "City name")}},
		{Name: "summarize_url", Description: "🔗 Summarize a web page",
			Options: []channels.CommandOption{str("url", "Page address")}},
		{Name: "help", Description: "📚 List available commands"},
		{Name: "about", Description: "🤖 Learn more about the bot"},
	}
}

// Handle executes one command. Commands run even when the user muted the
// bot so /on stays reachable.
func (c *Commands) Handle(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage) {
	cmd := msg.Command
	logger := c.logger.With("command", cmd.Name, "from", msg.From)
	logger.Info("command received")

	var (
		out *channels.OutgoingMessage
		err error
	)
	switch cmd.Name {
	case "text":
		out, err = c.setModality(ctx, msg.From, store.ModalityText, "I will now respond with text! 💬")
	case "voice":
		out, err = c.setModality(ctx, msg.From, store.ModalityVoice, "I will now respond with voice! 🎤")
	case "image":
		out, err = c.setModality(ctx, msg.From, store.ModalityImage, "I will now generate images! 🖼️")
	case "on":
		out, err = c.setActive(ctx, msg.From, true, "I'm active again in this channel 😄")
	case "off":
		out, err = c.setActive(ctx, msg.From, false, "I will remain silent in this channel 😶")
	case "reset":
		if _, err = c.d.deps.Store.ResetHistory(ctx, msg.From); err == nil {
			out = plain("Chat history has been reset! 🧹")
		}
	case "memory":
		out = c.memory(ctx, msg)
	case "imagine":
		c.imagine(ctx, ch, msg, cmd.Option("prompt"))
		return
	case "promptlab":
		out = c.promptLab(ctx, cmd.Option("prompt"))
	case "getfacts":
		out = c.facts(ctx)
	case "quote":
		out = c.quote(ctx)
	case "explain_code":
		out = c.explainCode(ctx, msg.From, cmd.Option("code"))
	case "remind_add":
		out = c.remindAdd(ctx, msg.From, cmd)
	case "remind_list":
		out = c.remindList(ctx, msg.From)
	case "remind_delete":
		out = c.remindDelete(ctx, msg.From, cmd.Option("index"))
	case "weather":
		out = c.weather(ctx, msg.From, cmd.Option("city"))
	case "summarize_url":
		out = c.summarizeURL(ctx, msg.From, cmd.Option("url"))
	case "help":
		out = c.help()
	case "about":
		out = c.about()
	default:
		out = plain(fmt.Sprintf("Unknown command /%s.", cmd.Name))
	}

	if err != nil {
		logger.Error("command failed", "error", err)
		out = plain(c.d.cfg.Messages.CommandFailed)
	}
	c.send(ctx, ch, msg, out)
}

func (c *Commands) send(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage, out *channels.OutgoingMessage) {
	if out == nil {
		return
	}
	out.ReplyTo = msg.ID
	if err := ch.Send(ctx, msg.ChatID, out); err != nil {
		c.logger.Error("failed to send command reply", "command", msg.Command.Name, "error", err)
	}
}

func plain(text string) *channels.OutgoingMessage {
	return &channels.OutgoingMessage{Content: text}
}

func embed(title, description string, color int) *channels.OutgoingMessage {
	return &channels.OutgoingMessage{Embeds: []*channels.Embed{{
		Title:       title,
		Description: description,
		Color:       color,
	}}}
}

func (c *Commands) setModality(ctx context.Context, userID string, m store.Modality, reply string) (*channels.OutgoingMessage, error) {
	if err := c.d.deps.Store.SetModality(ctx, userID, m); err != nil {
		return nil, err
	}
	return plain(reply), nil
}

func (c *Commands) setActive(ctx context.Context, userID string, active bool, reply string) (*channels.OutgoingMessage, error) {
	if err := c.d.deps.Store.SetActive(ctx, userID, active); err != nil {
		return nil, err
	}
	return plain(reply), nil
}

// ask renders a template and runs it with the helper timeout.
func (c *Commands) ask(ctx context.Context, name string, data prompts.Data, timeout time.Duration) (string, error) {
	prompt, err := c.d.deps.Prompts.Render(name, data)
	if err != nil {
		return "", err
	}
	return c.d.router.complete(ctx, timeout, prompt)
}

func (c *Commands) memory(ctx context.Context, msg *channels.IncomingMessage) *channels.OutgoingMessage {
	text, err := c.d.deps.Store.FullPromptText(ctx, msg.From)
	if err != nil {
		c.logger.Error("loading prompts for memory", "error", err)
		return plain(c.d.cfg.Messages.MemoryFailed)
	}
	if strings.TrimSpace(text) == "" {
		return plain(c.d.cfg.Messages.MemoryEmpty)
	}
	summary, err := c.ask(ctx, prompts.MemorySummary, prompts.Data{
		"Nickname": msg.FromName,
		"Messages": text,
	}, c.d.cfg.Timeouts.Helper)
	if err != nil {
		c.logger.Warn("memory summary failed", "error", err)
		return plain(c.d.cfg.Messages.MemoryFailed)
	}
	return embed("🧠 Memory Summary", summary, 0x9B59B6)
}

// imagine generates an image regardless of the user's modality and records
// the exchange like a regular message.
func (c *Commands) imagine(ctx context.Context, ch channels.Channel, msg *channels.IncomingMessage, prompt string) {
	req := Request{UserID: msg.From, Nickname: msg.FromName, Modality: store.ModalityImage, Content: prompt}
	res := c.d.router.imagine(ctx, req, prompt)
	out := Outbound{
		Channel:  ch,
		ChatID:   msg.ChatID,
		ReplyTo:  msg.ID,
		Nickname: msg.FromName,
		Modality: store.ModalityImage,
	}
	if err := c.d.assembler.Deliver(ctx, out, res); err != nil {
		c.logger.Error("imagine delivery failed", "error", err)
	}
	if err := c.d.record(ctx, msg.From, res); err != nil {
		c.logger.Error("failed to record imagine", "error", err)
	}
}

func (c *Commands) promptLab(ctx context.Context, idea string) *channels.OutgoingMessage {
	text, err := c.ask(ctx, prompts.PhotoLab, prompts.Data{"Idea": idea}, c.d.cfg.Timeouts.Helper)
	if err != nil {
		c.logger.Warn("promptlab failed", "error", err)
		return plain(c.d.cfg.Messages.PromptLabFailed)
	}
	return embed("✨ Prompt", "```\n"+text+"\n```", 0xE67E22)
}

func (c *Commands) facts(ctx context.Context) *channels.OutgoingMessage {
	text, err := c.ask(ctx, prompts.GetFacts, prompts.Data{}, c.d.cfg.Timeouts.Helper)
	if err != nil {
		c.logger.Warn("facts failed", "error", err)
		return plain(c.d.cfg.Messages.FactsFailed)
	}
	return embed("📚 AI Fact of the Day", "🧠 **Today's AI fact:**\n"+text, 0x1ABC9C)
}

func (c *Commands) quote(ctx context.Context) *channels.OutgoingMessage {
	text, err := c.ask(ctx, prompts.Quote, prompts.Data{}, c.d.cfg.Timeouts.Helper)
	if err != nil {
		c.logger.Warn("quote failed", "error", err)
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	return embed("🧠 Quote of the Moment", text, 0x8E44AD)
}

func (c *Commands) explainCode(ctx context.Context, userID, code string) *channels.OutgoingMessage {
	text, err := c.ask(ctx, prompts.ExplainCode, prompts.Data{"Code": code}, c.d.cfg.Timeouts.Reply)
	if err != nil {
		c.logger.Warn("explain_code failed", "error", err)
		return plain(c.d.cfg.Messages.Reply)
	}
	if _, err := c.d.deps.Store.AppendHistory(ctx, userID, code, text); err != nil {
		c.logger.Error("failed to record explanation", "error", err)
	}
	return embed("💡 Code Explanation", text, 0x3498DB)
}

func (c *Commands) remindAdd(ctx context.Context, userID string, cmd *channels.Command) *channels.OutgoingMessage {
	if c.d.deps.Reminders == nil {
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	var (
		local reminder.LocalTime
		errs  []error
	)
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"day", &local.Day},
		{"month", &local.Month},
		{"year", &local.Year},
		{"hour", &local.Hour},
		{"minute", &local.Minute},
		{"timezone_offset", &local.Offset},
	} {
		v, err := strconv.Atoi(strings.TrimSpace(cmd.Option(f.name)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s is not a number", f.name))
			continue
		}
		*f.dst = v
	}
	message := cmd.Option("message")
	if err := errors.Join(errs...); err != nil {
		return plain(fmt.Sprintf("❌ Invalid date or time provided: **%v**", err))
	}

	at, err := c.d.deps.Reminders.Add(ctx, userID, local, message)
	if err != nil {
		if errors.Is(err, reminder.ErrInvalidTime) {
			return plain(fmt.Sprintf("❌ Invalid date or time provided: **%v**", err))
		}
		c.logger.Error("failed to add reminder", "error", err)
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	localStr := reminder.LocalString(at.Format(store.ReminderLayout), local.Offset)
	return embed("✨ Reminder Set", fmt.Sprintf("✅ Reminder set!\n🕒 Local time: **%s (UTC%+d)**\n📩 Message: %s",
		localStr, local.Offset, message), 0x2ECC71)
}

func (c *Commands) remindList(ctx context.Context, userID string) *channels.OutgoingMessage {
	if c.d.deps.Reminders == nil {
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	views, err := c.d.deps.Reminders.List(ctx, userID)
	if err != nil {
		c.logger.Error("failed to list reminders", "error", err)
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	if len(views) == 0 {
		out := plain("📭 You have no active reminders.")
		out.Ephemeral = true
		return out
	}
	e := &channels.Embed{
		Title:  "🧠 Your Reminders (Local Time)",
		Color:  0x3498DB,
		Footer: "Use /remind_delete <index> to delete a reminder.",
	}
	for _, v := range views {
		e.Fields = append(e.Fields, channels.EmbedField{
			Name:  fmt.Sprintf("Reminder #%d", v.Position),
			Value: fmt.Sprintf("📅 Will trigger at: **%s (%s)**\n📝 Message: %s", v.Local, v.Zone(), v.Message),
		})
	}
	return &channels.OutgoingMessage{Embeds: []*channels.Embed{e}, Ephemeral: true}
}

func (c *Commands) remindDelete(ctx context.Context, userID, index string) *channels.OutgoingMessage {
	if c.d.deps.Reminders == nil {
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	invalid := &channels.OutgoingMessage{Content: "❌ Invalid reminder index.", Ephemeral: true}
	n, err := strconv.Atoi(strings.TrimSpace(index))
	if err != nil {
		return invalid
	}
	ok, err := c.d.deps.Reminders.Delete(ctx, userID, n)
	if err != nil {
		c.logger.Error("failed to delete reminder", "error", err)
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	if !ok {
		return invalid
	}
	return &channels.OutgoingMessage{Content: fmt.Sprintf("🗑️ Reminder #%d deleted!", n), Ephemeral: true}
}

func (c *Commands) weather(ctx context.Context, userID, city string) *channels.OutgoingMessage {
	if c.d.deps.Weather == nil {
		return plain(c.d.cfg.Messages.CommandFailed)
	}
	wctx, cancel := context.WithTimeout(ctx, c.d.cfg.Timeouts.Helper)
	defer cancel()
	w, err := c.d.deps.Weather.Current(wctx, city)
	if errors.Is(err, web.ErrCityNotFound) {
		return plain(fmt.Sprintf("❌ Sorry, no weather found for `%s`.", city))
	}
	if err != nil {
		c.logger.Warn("weather lookup failed", "city", city, "error", err)
		return plain(c.d.cfg.Messages.CommandFailed)
	}

	if _, err := c.d.deps.Store.AppendHistory(ctx, userID, city, fmt.Sprintf("Weather in %s: %s", w.City, w.Description)); err != nil {
		c.logger.Error("failed to record weather", "error", err)
	}
	return &channels.OutgoingMessage{Embeds: []*channels.Embed{{
		Title:       fmt.Sprintf("🌍 %s Weather Forecast", w.City),
		Description: fmt.Sprintf("**%s**", w.Description),
		Color:       0x00BFFF,
		Footer:      "🔎 Powered by OpenWeather",
		Fields: []channels.EmbedField{
			{Name: "🌡️ Temperature", Value: fmt.Sprintf("%.1f°C", w.TempC), Inline: true},
			{Name: "🤗 Feels Like", Value: fmt.Sprintf("%.1f°C", w.FeelsLikeC), Inline: true},
			{Name: "💧 Humidity", Value: fmt.Sprintf("%d%%", w.Humidity), Inline: true},
			{Name: "🌬️ Wind Speed", Value: fmt.Sprintf("%.1f m/s", w.WindSpeed), Inline: true},
		},
	}}}
}

func (c *Commands) summarizeURL(ctx context.Context, userID, rawURL string) *channels.OutgoingMessage {
	if c.d.deps.Pages == nil {
		return plain(c.d.cfg.Messages.PageFailed)
	}
	fctx, cancel := context.WithTimeout(ctx, c.d.cfg.Timeouts.Helper)
	page, err := c.d.deps.Pages.Fetch(fctx, rawURL)
	cancel()
	if errors.Is(err, web.ErrNoContent) {
		return plain(c.d.cfg.Messages.PageEmpty)
	}
	if err != nil {
		c.logger.Warn("page fetch failed", "url", rawURL, "error", err)
		return plain(c.d.cfg.Messages.PageFailed)
	}

	summary, err := c.ask(ctx, prompts.URLSummary, prompts.Data{
		"Title":   page.Title,
		"URL":     page.URL,
		"Content": page.Content,
	}, c.d.cfg.Timeouts.Reply)
	if err != nil {
		c.logger.Warn("page summary failed", "url", rawURL, "error", err)
		return plain(c.d.cfg.Messages.PageFailed)
	}
	if _, err := c.d.deps.Store.AppendHistory(ctx, userID, page.URL, summary); err != nil {
		c.logger.Error("failed to record summary", "error", err)
	}
	return embed("🔗 URL Summary", summary, 0x1F8B4C)
}

func (c *Commands) help() *channels.OutgoingMessage {
	e := &channels.Embed{
		Title:       "📘 Help – Available Commands",
		Description: fmt.Sprintf("Here are the commands you can use with `%s`:", c.d.env.BotName),
		Color:       0x2ECC71,
		Footer:      "Need help with anything else? Just ask!",
		Fields: []channels.EmbedField{
			{Name: "🎨 `/imagine`", Value: "Generate AI image from a description"},
			{Name: "🧠 `/memory`", Value: "Summarize what the bot remembers about you"},
			{Name: "🗣️ `/voice`, `/text`, `/image`", Value: "Switch between voice, text, or image mode"},
			{Name: "🎯 `/promptlab`", Value: "Turn your idea into a vivid image prompt"},
			{Name: "🔗 `/summarize_url`", Value: "Summarize a web page"},
			{Name: "💡 `/explain_code`", Value: "Explain a piece of code"},
			{Name: "📅 `/remind_add`", Value: "Set a reminder with time & message"},
			{Name: "📝 `/remind_list`, `/remind_delete`", Value: "List or delete reminders"},
			{Name: "🌤️ `/weather`", Value: "Check real-time weather of a city"},
			{Name: "📚 `/getfacts`, `/quote`", Value: "Get a fun AI fact or a quote"},
			{Name: "😶 `/off`, `/on`", Value: "Mute or activate the bot"},
			{Name: "🧹 `/reset`", Value: "Forget the conversation so far"},
		},
	}
	return &channels.OutgoingMessage{Embeds: []*channels.Embed{e}}
}

func (c *Commands) about() *channels.OutgoingMessage {
	name := c.d.env.BotName
	e := &channels.Embed{
		Title: fmt.Sprintf("🤖 %s – Smart, Safe, and Modular AI Bot", name),
		Description: fmt.Sprintf("%s combines conversational AI, image processing, voice, document analysis "+
			"and safety-aware generation in one assistant.", name),
		Color:  0x3498DB,
		Footer: "Type /help to explore all commands!",
		Fields: []channels.EmbedField{
			{Name: "🧠 Multi-modal Intelligence", Value: "Text, Voice, Image generation and analysis"},
			{Name: "🎨 Creative Tools", Value: "Imagine prompts and the PromptLab enhancer"},
			{Name: "📁 Document Analysis", Value: "Supports `.pdf`, `.docx`, `.xlsx`, `.csv` and plain text files"},
			{Name: "🔗 Web Summaries", Value: "Readable page extraction + AI summarization"},
			{Name: "⏰ Reminders & Weather", Value: "Create reminders and check global weather in real time"},
		},
	}
	return &channels.OutgoingMessage{Embeds: []*channels.Embed{e}}
}
