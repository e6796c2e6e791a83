// Package postgres stores chat metadata as JSONB rows in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

const ddlChatMetadata = `
CREATE TABLE IF NOT EXISTS chat_metadata (
    chat_id    TEXT         PRIMARY KEY,
    metadata   JSONB        NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Store implements [chatmeta.Store] on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ chatmeta.Store = (*Store)(nil)

// NewStore connects to dsn, pings, and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres chatmeta: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres chatmeta: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres chatmeta: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres chatmeta: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the chat_metadata table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlChatMetadata); err != nil {
		return fmt.Errorf("create chat_metadata: %w", err)
	}
	return nil
}

// Load implements [chatmeta.Store].
func (s *Store) Load(ctx context.Context, chatID string) (chatmeta.Metadata, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT metadata FROM chat_metadata WHERE chat_id = $1`, chatID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return chatmeta.Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres chatmeta: load %q: %w", chatID, err)
	}
	meta, err := chatmeta.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("postgres chatmeta: decode %q: %w", chatID, err)
	}
	return meta, nil
}

// Save implements [chatmeta.Store].
func (s *Store) Save(ctx context.Context, chatID string, meta chatmeta.Metadata) error {
	data, err := chatmeta.Encode(meta)
	if err != nil {
		return fmt.Errorf("postgres chatmeta: encode %q: %w", chatID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_metadata (chat_id, metadata, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (chat_id) DO UPDATE
		SET metadata = EXCLUDED.metadata, updated_at = now()`,
		chatID, string(data))
	if err != nil {
		return fmt.Errorf("postgres chatmeta: save %q: %w", chatID, err)
	}
	return nil
}

// List implements [chatmeta.Store].
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id FROM chat_metadata ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres chatmeta: list: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres chatmeta: list: %w", err)
	}
	return ids, nil
}

// Ping implements [chatmeta.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [chatmeta.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
