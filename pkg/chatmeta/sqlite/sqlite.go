// Package sqlite stores chat metadata in a single SQLite file using the pure
// Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_metadata (
	chat_id    TEXT PRIMARY KEY,
	metadata   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store implements [chatmeta.Store] on SQLite.
type Store struct {
	db *sql.DB
}

var _ chatmeta.Store = (*Store)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite chatmeta: create dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite chatmeta: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite chatmeta: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Load implements [chatmeta.Store].
func (s *Store) Load(ctx context.Context, chatID string) (chatmeta.Metadata, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM chat_metadata WHERE chat_id = ?`, chatID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return chatmeta.Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite chatmeta: load %q: %w", chatID, err)
	}
	meta, err := chatmeta.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("sqlite chatmeta: decode %q: %w", chatID, err)
	}
	return meta, nil
}

// Save implements [chatmeta.Store].
func (s *Store) Save(ctx context.Context, chatID string, meta chatmeta.Metadata) error {
	data, err := chatmeta.Encode(meta)
	if err != nil {
		return fmt.Errorf("sqlite chatmeta: encode %q: %w", chatID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_metadata (chat_id, metadata, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET metadata = excluded.metadata, updated_at = excluded.updated_at`,
		chatID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite chatmeta: save %q: %w", chatID, err)
	}
	return nil
}

// List implements [chatmeta.Store].
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM chat_metadata ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite chatmeta: list: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite chatmeta: list scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping implements [chatmeta.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [chatmeta.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
