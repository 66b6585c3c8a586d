package store

import (
	"context"
	"fmt"
	"strings"
)

// HistoryEntry is one prompt/response exchange. Entries are append-only and
// ordered by ID.
type HistoryEntry struct {
	ID       int64
	UserID   string
	Prompt   string
	Response string
}

// AppendHistory records an exchange and returns its ID.
func (s *Store) AppendHistory(ctx context.Context, userID, prompt, response string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO history (user_id, message, response) VALUES (?, ?, ?)",
		userID, prompt, response)
	if err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append history id: %w", err)
	}
	return id, nil
}

// History returns every entry for a user in conversational order.
func (s *Store) History(ctx context.Context, userID string) ([]HistoryEntry, error) {
	return s.queryHistory(ctx, `
		SELECT id, user_id, message, response FROM history
		WHERE user_id = ? ORDER BY id ASC`, userID)
}

// RecentHistory returns the newest limit entries in chronological order.
// limit <= 0 returns everything.
func (s *Store) RecentHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		return s.History(ctx, userID)
	}
	entries, err := s.queryHistory(ctx, `
		SELECT id, user_id, message, response FROM history
		WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	reverse(entries)
	return entries, nil
}

// RecentPrompts returns the last n entries with only ID and Prompt set, in
// chronological order.
func (s *Store) RecentPrompts(ctx context.Context, userID string, n int) ([]HistoryEntry, error) {
	entries, err := s.RecentHistory(ctx, userID, n)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Response = ""
	}
	return entries, nil
}

// FullPromptText joins every stored prompt of a user with newlines.
func (s *Store) FullPromptText(ctx context.Context, userID string) (string, error) {
	entries, err := s.History(ctx, userID)
	if err != nil {
		return "", err
	}
	prompts := make([]string, 0, len(entries))
	for _, e := range entries {
		prompts = append(prompts, e.Prompt)
	}
	return strings.Join(prompts, "\n"), nil
}

// CountHistory returns the number of entries stored for a user.
func (s *Store) CountHistory(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

// DeleteHistory removes the given entries. Only rows owned by userID are
// touched; the number of deleted rows is returned.
func (s *Store) DeleteHistory(ctx context.Context, userID string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete history: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM history WHERE id = ? AND user_id = ?")
	if err != nil {
		return 0, fmt.Errorf("prepare delete history: %w", err)
	}
	defer stmt.Close()

	deleted := 0
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id, userID)
		if err != nil {
			return 0, fmt.Errorf("delete history %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete history: %w", err)
	}
	return deleted, nil
}

// ResetHistory deletes every entry of a user. Calling it on an empty history
// is a no-op.
func (s *Store) ResetHistory(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM history WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("reset history: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Prompt, &e.Response); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func reverse(entries []HistoryEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
