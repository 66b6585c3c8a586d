// Package dispatch turns incoming chat messages into answers. A message is
// classified by its attachment, routed to one AI capability chain according
// to the user's modality, rendered as text, voice or image and recorded in
// the user's history. Messages from one user are handled strictly in order;
// different users proceed in parallel.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
	"github.com/jholhewres/muse/pkg/muse/channels"
)

// Deps are the collaborators of the pipeline. Pages, Weather and Reminders
// are optional; the commands that need them answer with an error text.
type Deps struct {
	Store       Store
	Text        TextModel
	Images      ImageModel
	Transcriber Transcriber
	Speech      Synthesizer
	Prompts     *prompts.Set
	Pages       PageFetcher
	Weather     WeatherSource
	Reminders   Reminders
	Channels    ChannelLookup
}

// Environment carries the deployment settings the pipeline renders with.
type Environment struct {
	BotName  string
	Location *time.Location
	MediaDir string
}

func (e Environment) normalize() Environment {
	if e.BotName == "" {
		e.BotName = "Muse"
	}
	if e.Location == nil {
		e.Location = time.UTC
	}
	if e.MediaDir == "" {
		e.MediaDir = os.TempDir()
	}
	return e
}

// Dispatcher consumes incoming messages and runs the pipeline for each.
type Dispatcher struct {
	deps      Deps
	cfg       Config
	env       Environment
	router    *Router
	assembler *Assembler
	memory    *Maintainer
	commands  *Commands
	logger    *slog.Logger

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// lane is one user's backlog. It grows without bound so a slow user never
// holds up the reader.
type lane struct {
	queue []*channels.IncomingMessage
}

// New wires a dispatcher.
func New(deps Deps, cfg Config, env Environment, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	env = env.normalize()
	d := &Dispatcher{
		deps:      deps,
		cfg:       cfg,
		env:       env,
		router:    NewRouter(deps, cfg, env, logger),
		assembler: NewAssembler(deps, cfg, env, logger),
		memory:    NewMaintainer(deps, cfg, logger),
		logger:    logger.With("component", "dispatcher"),
		lanes:     make(map[string]*lane),
	}
	d.commands = newCommands(d, logger)
	return d
}

// Commands returns the slash command definitions to register.
func (d *Dispatcher) Commands() []channels.CommandSpec {
	return d.commands.Specs()
}

// Run reads messages until in is closed or ctx is cancelled, then waits
// for the lanes to drain.
func (d *Dispatcher) Run(ctx context.Context, in <-chan *channels.IncomingMessage) error {
	defer d.wg.Wait()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			d.enqueue(ctx, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// enqueue appends msg to its sender's lane, starting the lane worker when
// the user has none. It never blocks.
func (d *Dispatcher) enqueue(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil || msg.IsBot {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[msg.From]
	if !ok {
		l = &lane{}
		d.lanes[msg.From] = l
		d.wg.Add(1)
		go d.drain(ctx, msg.From, l)
	}
	l.queue = append(l.queue, msg)
}

// drain handles one user's messages in arrival order and retires the lane
// once it is empty. Removal happens under the lock, so a concurrent enqueue
// either lands in this lane or starts a new worker.
func (d *Dispatcher) drain(ctx context.Context, userID string, l *lane) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(l.queue) == 0 || ctx.Err() != nil {
			if n := len(l.queue); n > 0 {
				d.logger.Warn("dropping queued messages on shutdown", "from", userID, "count", n)
			}
			delete(d.lanes, userID)
			d.mu.Unlock()
			return
		}
		msg := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		d.mu.Unlock()

		d.Handle(ctx, msg)
	}
}

// Handle runs the whole pipeline for one message. Errors are logged; the
// event is dropped when persistence fails.
func (d *Dispatcher) Handle(ctx context.Context, msg *channels.IncomingMessage) {
	if msg == nil || msg.IsBot {
		return
	}
	start := time.Now()
	logger := d.logger.With("channel", msg.Channel, "chat_id", msg.ChatID, "from", msg.From, "msg_id", msg.ID)

	ch, ok := d.deps.Channels.Channel(msg.Channel)
	if !ok {
		logger.Error("message from unknown channel")
		return
	}

	if err := d.deps.Store.EnsureUser(ctx, msg.From, msg.FromName); err != nil {
		logger.Error("failed to record user, dropping message", "error", err)
		return
	}

	if msg.Command != nil {
		d.commands.Handle(ctx, ch, msg)
		return
	}

	user, err := d.deps.Store.GetUser(ctx, msg.From)
	if err != nil {
		logger.Error("failed to read user state, dropping message", "error", err)
		return
	}
	if !user.Active {
		logger.Debug("user muted the bot, ignoring")
		return
	}
	modality := user.Modality

	if pc, ok := ch.(channels.PresenceChannel); ok {
		_ = pc.SendTyping(ctx, msg.ChatID)
	}

	req := Request{
		UserID:   msg.From,
		Nickname: msg.FromName,
		Branch:   Classify(msg),
		Modality: modality,
		Content:  msg.Content,
	}
	logger.Info("incoming message", "branch", req.Branch.String(), "modality", modality.String())

	var res Result
	if req.Branch != BranchText {
		att, err := stage(ctx, ch, msg, d.env.MediaDir)
		if err != nil {
			logger.Warn("attachment unavailable", "error", err)
			res = Result{Failure: FailureBackend, Err: err, Prompt: msg.Content, Document: req.Branch == BranchDocument}
		} else {
			defer os.Remove(att.Path)
			req.Attachment = att
			res = d.router.Route(ctx, req)
		}
	} else {
		res = d.router.Route(ctx, req)
	}

	out := Outbound{
		Channel:  ch,
		ChatID:   msg.ChatID,
		ReplyTo:  msg.ID,
		Nickname: msg.FromName,
		Modality: modality,
	}
	delivered := true
	if err := d.assembler.Deliver(ctx, out, res); err != nil {
		logger.Error("delivery failed", "error", err)
		delivered = false
	}

	if err := d.record(ctx, msg.From, res); err != nil {
		logger.Error("failed to record history", "error", err)
		return
	}
	// Only responses that reached the user count towards memory upkeep.
	if delivered {
		d.memory.AfterExchange(ctx, msg.From)
	}

	logger.Info("message handled",
		"failure", res.Failure.String(),
		"delivered", delivered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// record stores one history entry for the exchange, fallbacks included.
func (d *Dispatcher) record(ctx context.Context, userID string, res Result) error {
	response := res.Summary
	if response == "" {
		response = d.cfg.Messages.Text(res)
	}
	prompt := res.Prompt
	if prompt == "" && response == "" {
		return errors.New("empty exchange")
	}
	_, err := d.deps.Store.AppendHistory(ctx, userID, prompt, response)
	return err
}
