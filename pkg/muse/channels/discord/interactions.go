package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// registeredInteraction wraps a deferred interaction with its arrival time.
type registeredInteraction struct {
	interaction  *discordgo.Interaction
	registeredAt time.Time
}

// InteractionRegistry keeps deferred slash-command interactions so replies
// can be sent as followups. Discord invalidates interaction tokens after 15
// minutes; entries older than the TTL are dropped.
type InteractionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*registeredInteraction
	ttl     time.Duration
	logger  *slog.Logger
	stopCh  chan struct{}
	once    sync.Once
}

// NewInteractionRegistry creates a registry and starts background cleanup.
func NewInteractionRegistry(ttl time.Duration, logger *slog.Logger) *InteractionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &InteractionRegistry{
		entries: make(map[string]*registeredInteraction),
		ttl:     ttl,
		logger:  logger.With("component", "discord_interactions"),
		stopCh:  make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Register stores an interaction under id.
func (r *InteractionRegistry) Register(id string, i *discordgo.Interaction) {
	if id == "" || i == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &registeredInteraction{interaction: i, registeredAt: time.Now()}
}

// Get returns the interaction if it is known and its token is still valid.
func (r *InteractionRegistry) Get(id string) (*discordgo.Interaction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[id]
	if !ok || r.expired(reg, time.Now()) {
		return nil, false
	}
	return reg.interaction, true
}

// Len returns the number of tracked interactions.
func (r *InteractionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *InteractionRegistry) expired(reg *registeredInteraction, now time.Time) bool {
	return r.ttl > 0 && now.Sub(reg.registeredAt) > r.ttl
}

func (r *InteractionRegistry) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanupExpired(time.Now())
		}
	}
}

func (r *InteractionRegistry) cleanupExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, reg := range r.entries {
		if r.expired(reg, now) {
			delete(r.entries, id)
			n++
		}
	}
	if n > 0 {
		r.logger.Debug("discord: dropped expired interactions", "count", n)
	}
	return n
}

// Stop halts the cleanup loop. Safe to call more than once.
func (r *InteractionRegistry) Stop() {
	r.once.Do(func() { close(r.stopCh) })
}
