// Package store persists Muse state in a single SQLite file: users and
// their response modality, mute flag, response counter, conversation history
// and pending reminders. The database is opened once per process and shared
// by the dispatcher and the reminder scheduler.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is the version recorded after the schema below is applied.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id  TEXT PRIMARY KEY,
	nickname TEXT
);

CREATE TABLE IF NOT EXISTS history (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id  TEXT NOT NULL,
	message  TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_user ON history(user_id, id);

CREATE TABLE IF NOT EXISTS messages_type (
	user_id TEXT PRIMARY KEY,
	type    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS response_count (
	user_id        TEXT PRIMARY KEY,
	response_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS user_mode (
	user_id TEXT PRIMARY KEY,
	mode    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reminders (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         TEXT NOT NULL,
	utc_date        TEXT NOT NULL,
	timezone_offset INTEGER NOT NULL DEFAULT 0,
	message         TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_date ON reminders(utc_date);
`

// Config holds SQLite options.
type Config struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at cfg.Path and applies the schema.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "./data/muse.db"
	}
	if cfg.JournalMode == "" {
		cfg.JournalMode = "WAL"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5000
	}

	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=ON", cfg.Path, cfg.JournalMode, cfg.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", cfg.Path, err)
	}
	// One writer at a time; SQLite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("database ready", "path", cfg.Path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion returns the recorded schema version (0 when never migrated).
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// migrate applies the schema. Safe to run on every start.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := s.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if current < schemaVersion {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		s.logger.Info("schema migrated", "from", current, "to", schemaVersion)
	}
	return nil
}
