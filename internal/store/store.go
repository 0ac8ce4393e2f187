// Package store is the bot's embedded relational core. Character
// inventories, table history, counters and the settlement log live in
// sqlite with indexed lookups; configured mirrors receive rendered rows so
// the community spreadsheet stays readable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"guildledger.app/internal/sheetsync"
)

// ErrNotFound indicates the criteria matched no row.
var ErrNotFound = errors.New("record not found")

// ErrInsufficient indicates a guarded debit would go negative.
var ErrInsufficient = errors.New("insufficient balance")

type Store struct {
	db     *sql.DB
	mirror sheetsync.Mirror
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path.
func Open(path string, mirror sheetsync.Mirror, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if mirror == nil {
		mirror = sheetsync.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, mirror: mirror, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS characters (
			player_tag TEXT NOT NULL,
			name TEXT NOT NULL,
			level INTEGER NOT NULL DEFAULT 1,
			gold REAL NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			inv_channel_id TEXT NOT NULL DEFAULT '',
			inv_message_id TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (player_tag, name)
		);`,
		`CREATE TABLE IF NOT EXISTS inventory (
			player_tag TEXT NOT NULL,
			character TEXT NOT NULL,
			category TEXT NOT NULL,
			items TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (player_tag, character, category)
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			narrator_tag TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT '',
			registered INTEGER NOT NULL DEFAULT 0,
			finalized INTEGER NOT NULL DEFAULT 0,
			player1 TEXT NOT NULL DEFAULT '', player2 TEXT NOT NULL DEFAULT '',
			player3 TEXT NOT NULL DEFAULT '', player4 TEXT NOT NULL DEFAULT '',
			player5 TEXT NOT NULL DEFAULT '', player6 TEXT NOT NULL DEFAULT '',
			items1 TEXT NOT NULL DEFAULT '', items2 TEXT NOT NULL DEFAULT '',
			items3 TEXT NOT NULL DEFAULT '', items4 TEXT NOT NULL DEFAULT '',
			items5 TEXT NOT NULL DEFAULT '', items6 TEXT NOT NULL DEFAULT '',
			gold REAL NOT NULL DEFAULT 0,
			criterion TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_narrator ON history(narrator_tag);`,
		`CREATE INDEX IF NOT EXISTS idx_history_status ON history(registered, finalized);`,
		`CREATE TABLE IF NOT EXISTS weekly (
			player_tag TEXT NOT NULL,
			week INTEGER NOT NULL,
			tables_played INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (player_tag, week)
		);`,
		`CREATE TABLE IF NOT EXISTS narrators (
			tag TEXT PRIMARY KEY,
			tables_run INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS items (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			category TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS shop (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			category TEXT NOT NULL DEFAULT '',
			buy_price REAL NOT NULL DEFAULT 0,
			sell_price REAL NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS saga (
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			workflow TEXT NOT NULL,
			step TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			PRIMARY KEY (id, step)
		);`,
		`CREATE TABLE IF NOT EXISTS settlements (
			id TEXT PRIMARY KEY,
			history_id INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Meta returns a meta value, or "" when absent.
func (s *Store) Meta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
