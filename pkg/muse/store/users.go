package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Modality is the response format a user selected.
type Modality int

const (
	ModalityText Modality = iota
	ModalityVoice
	ModalityImage
)

// String returns the persisted name of the modality.
func (m Modality) String() string {
	switch m {
	case ModalityVoice:
		return "voice"
	case ModalityImage:
		return "image"
	default:
		return "text"
	}
}

// ParseModality maps a stored or typed name to a Modality. "speech" is
// accepted as an alias for voice; anything unknown is text.
func ParseModality(s string) Modality {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voice", "speech":
		return ModalityVoice
	case "image":
		return ModalityImage
	default:
		return ModalityText
	}
}

// User is the per-user state read at the start of every exchange.
type User struct {
	ID            string
	Nickname      string
	Modality      Modality
	Active        bool
	ResponseCount int
}

// EnsureUser records the nickname and seeds modality=text and active=on the
// first time a user is seen. Existing mode flags are left untouched.
func (s *Store) EnsureUser(ctx context.Context, userID, nickname string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure user: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (user_id, nickname) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET nickname = excluded.nickname`,
		userID, nickname); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages_type (user_id, type) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, ModalityText.String()); err != nil {
		return fmt.Errorf("seed modality: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_mode (user_id, mode) VALUES (?, 1)
		ON CONFLICT(user_id) DO NOTHING`,
		userID); err != nil {
		return fmt.Errorf("seed active flag: %w", err)
	}
	return tx.Commit()
}

// GetUser returns the combined state for a user. Missing rows fall back to
// the defaults a new user would get.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var (
		nickname sql.NullString
		msgType  sql.NullString
		mode     sql.NullInt64
		count    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.nickname, t.type, m.mode, c.response_count
		FROM (SELECT ? AS user_id) k
		LEFT JOIN users u          ON u.user_id = k.user_id
		LEFT JOIN messages_type t  ON t.user_id = k.user_id
		LEFT JOIN user_mode m      ON m.user_id = k.user_id
		LEFT JOIN response_count c ON c.user_id = k.user_id`,
		userID).Scan(&nickname, &msgType, &mode, &count)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	u := &User{
		ID:            userID,
		Nickname:      nickname.String,
		Modality:      ParseModality(msgType.String),
		Active:        !mode.Valid || mode.Int64 != 0,
		ResponseCount: int(count.Int64),
	}
	return u, nil
}

// SetModality stores the user's response modality (last write wins).
func (s *Store) SetModality(ctx context.Context, userID string, m Modality) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages_type (user_id, type) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET type = excluded.type`,
		userID, m.String())
	if err != nil {
		return fmt.Errorf("set modality: %w", err)
	}
	return nil
}

// SetActive turns the assistant on or off for a user.
func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	mode := 0
	if active {
		mode = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_mode (user_id, mode) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET mode = excluded.mode`,
		userID, mode)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// IncrementResponses bumps the successful-response counter and returns the
// new value.
func (s *Store) IncrementResponses(ctx context.Context, userID string) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_count (user_id, response_count) VALUES (?, 1)
		ON CONFLICT(user_id) DO UPDATE SET response_count = response_count + 1`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("increment responses: %w", err)
	}
	return s.ResponseCount(ctx, userID)
}

// ResponseCount returns the number of successful responses for a user.
func (s *Store) ResponseCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT response_count FROM response_count WHERE user_id = ?", userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get response count: %w", err)
	}
	return n, nil
}
