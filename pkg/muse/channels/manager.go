package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager connects the registered channels and merges their incoming
// messages into one stream for the dispatcher.
type Manager struct {
	channels map[string]Channel
	messages chan *IncomingMessage
	logger   *slog.Logger

	// listenWg tracks the per-channel forwarders so Stop can close messages
	// only after every writer has returned.
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel and starts forwarding its
// messages. A channel that fails to connect is logged and skipped; Start
// fails only when none connected.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		return errors.New("no channels registered")
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", name, "error", err)
			continue
		}
		connected++
		m.logger.Info("channel connected", "channel", name)

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	if connected == 0 {
		return errors.New("no channel connected")
	}
	return nil
}

// Stop disconnects every channel and closes the merged stream.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	m.listenWg.Wait()
	close(m.messages)
	m.logger.Info("channels stopped")
}

// Messages returns the merged incoming stream. It is closed by Stop.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Direct returns the first connected channel able to open a private
// conversation. Reminders use it because they have no originating chat.
func (m *Manager) Direct() (DirectChannel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.channels {
		if dc, ok := ch.(DirectChannel); ok && ch.IsConnected() {
			return dc, true
		}
	}
	return nil, false
}

// RegisterCommands publishes specs on every channel that supports commands.
func (m *Manager) RegisterCommands(ctx context.Context, specs []CommandSpec) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		cc, ok := ch.(CommandChannel)
		if !ok {
			continue
		}
		if err := cc.RegisterCommands(ctx, specs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthAll returns the health of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

func (m *Manager) listenChannel(ch Channel) {
	in := ch.Receive()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}
