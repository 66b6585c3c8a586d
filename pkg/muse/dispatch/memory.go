package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jholhewres/muse/pkg/muse/ai/prompts"
)

// Maintainer prunes low-value prompts from a user's history every few
// responses. It is best effort: every failure is logged and dropped.
type Maintainer struct {
	store   Store
	text    TextModel
	prompts *prompts.Set
	cfg     Config
	logger  *slog.Logger
}

// NewMaintainer creates a memory maintainer.
func NewMaintainer(deps Deps, cfg Config, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		store:   deps.Store,
		text:    deps.Text,
		prompts: deps.Prompts,
		cfg:     cfg.normalize(),
		logger:  logger.With("component", "memory"),
	}
}

// AfterExchange counts a completed response and prunes on every
// MemoryInterval-th one.
func (m *Maintainer) AfterExchange(ctx context.Context, userID string) {
	count, err := m.store.IncrementResponses(ctx, userID)
	if err != nil {
		m.logger.Warn("could not count response", "user", userID, "error", err)
		return
	}
	if count%m.cfg.MemoryInterval != 0 {
		return
	}
	deleted, err := m.Prune(ctx, userID)
	if err != nil {
		m.logger.Warn("memory pruning failed", "user", userID, "error", err)
		return
	}
	m.logger.Info("memory pruned", "user", userID, "responses", count, "deleted", deleted)
}

// Prune asks the text model which recent prompts carry no lasting value and
// deletes them. Only ids that were part of the window can be deleted.
func (m *Maintainer) Prune(ctx context.Context, userID string) (int, error) {
	recent, err := m.store.RecentPrompts(ctx, userID, m.cfg.MemoryWindow)
	if err != nil {
		return 0, fmt.Errorf("loading recent prompts: %w", err)
	}
	if len(recent) == 0 {
		return 0, nil
	}

	window := make(map[int64]bool, len(recent))
	var lines strings.Builder
	for _, e := range recent {
		window[e.ID] = true
		fmt.Fprintf(&lines, "%d: %s\n", e.ID, strings.ReplaceAll(e.Prompt, "\n", " "))
	}

	prompt, err := m.prompts.Render(prompts.UselessMessage, prompts.Data{"Messages": lines.String()})
	if err != nil {
		return 0, err
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Helper)
	defer cancel()
	answer, err := m.text.Complete(pctx, prompt)
	if err != nil {
		return 0, fmt.Errorf("asking for low-value prompts: %w", err)
	}

	ids, err := parseDeleteIDs(answer)
	if err != nil {
		return 0, err
	}
	keep := ids[:0]
	for _, id := range ids {
		if window[id] {
			keep = append(keep, id)
		}
	}
	if len(keep) == 0 {
		return 0, nil
	}
	return m.store.DeleteHistory(ctx, userID, keep)
}

// parseDeleteIDs reads {"delete":[...]} from a model answer that may wrap
// the JSON in a code fence or surrounding prose.
func parseDeleteIDs(answer string) ([]int64, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in answer %q", clipRunes(answer, 80))
	}
	var out struct {
		Delete []int64 `json:"delete"`
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decoding prune answer: %w", err)
	}
	return out.Delete, nil
}
