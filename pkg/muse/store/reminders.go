package store

import (
	"context"
	"fmt"
	"time"
)

// ReminderLayout is the minute-granular UTC layout reminders are stored
// and matched with.
const ReminderLayout = "2006-01-02 15:04"

// Reminder is a single-shot reminder. UTCDate is formatted with
// ReminderLayout; TimezoneOffset is the user's offset in hours.
type Reminder struct {
	ID             int64
	UserID         string
	UTCDate        string
	TimezoneOffset int
	Message        string
	CreatedAt      time.Time
}

// AddReminder stores a reminder and returns its ID.
func (s *Store) AddReminder(ctx context.Context, r Reminder) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (user_id, utc_date, timezone_offset, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.UserID, r.UTCDate, r.TimezoneOffset, r.Message, r.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("add reminder: %w", err)
	}
	return res.LastInsertId()
}

// ListReminders returns a user's reminders in insertion order.
func (s *Store) ListReminders(ctx context.Context, userID string) ([]Reminder, error) {
	return s.queryReminders(ctx, `
		SELECT id, user_id, utc_date, timezone_offset, message, created_at
		FROM reminders WHERE user_id = ? ORDER BY id ASC`, userID)
}

// AllReminders returns every pending reminder.
func (s *Store) AllReminders(ctx context.Context) ([]Reminder, error) {
	return s.queryReminders(ctx, `
		SELECT id, user_id, utc_date, timezone_offset, message, created_at
		FROM reminders ORDER BY id ASC`)
}

// RemindersAt returns reminders due at exactly the given minute.
func (s *Store) RemindersAt(ctx context.Context, minute string) ([]Reminder, error) {
	return s.queryReminders(ctx, `
		SELECT id, user_id, utc_date, timezone_offset, message, created_at
		FROM reminders WHERE utc_date = ? ORDER BY id ASC`, minute)
}

// DeleteReminderAt removes the reminder at the 1-based position of the
// user's list. It reports false when the position is out of range.
func (s *Store) DeleteReminderAt(ctx context.Context, userID string, position int) (bool, error) {
	if position < 1 {
		return false, nil
	}
	list, err := s.ListReminders(ctx, userID)
	if err != nil {
		return false, err
	}
	if position > len(list) {
		return false, nil
	}
	n, err := s.DeleteReminders(ctx, []int64{list[position-1].ID})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteReminders removes reminders by ID and returns how many existed.
func (s *Store) DeleteReminders(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete reminders: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, "DELETE FROM reminders WHERE id = ?", id)
		if err != nil {
			return 0, fmt.Errorf("delete reminder %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete reminders: %w", err)
	}
	return deleted, nil
}

func (s *Store) queryReminders(ctx context.Context, query string, args ...any) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r       Reminder
			created string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.UTCDate, &r.TimezoneOffset, &r.Message, &created); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
