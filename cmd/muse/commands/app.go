package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jholhewres/muse/pkg/muse/ai"
	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
	"github.com/jholhewres/muse/pkg/muse/ai/tts"
	"github.com/jholhewres/muse/pkg/muse/channels"
	"github.com/jholhewres/muse/pkg/muse/config"
	"github.com/jholhewres/muse/pkg/muse/dispatch"
	"github.com/jholhewres/muse/pkg/muse/reminder"
	"github.com/jholhewres/muse/pkg/muse/store"
	"github.com/jholhewres/muse/pkg/muse/web"
)

// shutdownTimeout bounds how long in-flight messages may take after a
// stop signal.
const shutdownTimeout = 10 * time.Second

const healthTimeout = 5 * time.Second

// app is the assembled pipeline shared by serve and chat.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	channels   *channels.Manager
	dispatcher *dispatch.Dispatcher
	scheduler  *reminder.Scheduler
}

// newApp opens the database and wires every collaborator. The caller
// registers channels on a.channels before calling run.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	set, err := prompts.Load(cfg.PromptsDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	speech, err := tts.New(cfg.TTS, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	client := ai.NewClient(cfg.AI, logger)
	mgr := channels.NewManager(logger)
	scheduler := reminder.New(st, mgr, cfg.Reminders, logger)

	deps := dispatch.Deps{
		Store:       st,
		Text:        client,
		Images:      client,
		Transcriber: ai.NewTranscriber(cfg.AI.Transcription, logger),
		Speech:      speech,
		Prompts:     set,
		Pages:       web.NewFetcher(cfg.Web, web.NewGuard(cfg.Web.Guard, logger), logger),
		Reminders:   scheduler,
		Channels:    mgr,
	}
	if cfg.Weather.APIKey != "" {
		deps.Weather = web.NewWeatherClient(cfg.Weather, logger)
	} else {
		logger.Warn("no OpenWeather key, /weather is disabled")
	}

	env := dispatch.Environment{
		BotName:  cfg.Name,
		Location: cfg.Location(),
		MediaDir: cfg.MediaDir,
	}
	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		channels:   mgr,
		dispatcher: dispatch.New(deps, cfg.Dispatch, env, logger),
		scheduler:  scheduler,
	}, nil
}

// run starts the channels, the dispatcher and the reminder sweep, and
// blocks until ctx is cancelled or one of them fails. In-flight messages
// get shutdownTimeout to finish.
func (a *app) run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.channels.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	if err := a.channels.RegisterCommands(ctx, a.dispatcher.Commands()); err != nil {
		a.logger.Warn("some commands could not be registered", "error", err)
	}
	_ = a.logHealth(ctx, "startup")
	defer func() { _ = a.logHealth(context.WithoutCancel(ctx), "shutdown") }()

	// The dispatcher keeps its own context so a stop signal lets queued
	// messages drain instead of cutting model calls short.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatcher.Run(workCtx, a.channels.Messages())
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("stopping channels")
		a.channels.Stop()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return ignoreCanceled(err)
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		a.logger.Info("shutdown complete")
		return ignoreCanceled(err)
	case <-time.After(shutdownTimeout):
		a.logger.Warn("shutdown timed out, abandoning in-flight messages", "timeout", shutdownTimeout)
		cancelWork()
		return ignoreCanceled(<-done)
	}
}

// logHealth logs the database and channel state and returns the database
// ping error, if any.
func (a *app) logHealth(ctx context.Context, stage string) error {
	pctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	err := a.store.Ping(pctx)
	if err != nil {
		a.logger.Error("database unreachable", "stage", stage, "error", err)
	} else {
		a.logger.Info("database ok", "stage", stage)
	}

	statuses := a.channels.HealthAll()
	for _, name := range slices.Sorted(maps.Keys(statuses)) {
		h := statuses[name]
		attrs := []any{"stage", stage, "channel", name, "connected", h.Connected, "errors", h.ErrorCount}
		if !h.LastMessageAt.IsZero() {
			attrs = append(attrs, "last_message", h.LastMessageAt)
		}
		for _, k := range slices.Sorted(maps.Keys(h.Details)) {
			attrs = append(attrs, k, h.Details[k])
		}
		a.logger.Info("channel health", attrs...)
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
