// Package chatmeta persists per-chat metadata maps.
//
// A host keeps one metadata map per chat. Extensions store their state under
// their own key; the summarizer uses "scenario_summarizer". Values are kept
// as raw JSON so each owner decodes and migrates its own shape.
//
// Implementations:
//   - [MemStore]: in-process map, used by tests and the "memory" backend.
//   - sqlite.Store: a single-file database via modernc.org/sqlite.
//   - postgres.Store: a JSONB column via pgx.
package chatmeta

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("chatmeta: store closed")

// Metadata is one chat's metadata map. Keys are owner names.
type Metadata map[string]json.RawMessage

// Clone returns a copy whose values do not alias m's byte slices.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// Store loads and saves metadata maps by chat id.
//
// Load returns an empty, non-nil map for an unknown chat. Save replaces the
// stored map wholesale. Implementations must be safe for concurrent use.
type Store interface {
	Load(ctx context.Context, chatID string) (Metadata, error)
	Save(ctx context.Context, chatID string, meta Metadata) error
	List(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ─────────────────────────────────────────────────────────────────────────────
// MemStore
// ─────────────────────────────────────────────────────────────────────────────

// MemStore is an in-memory [Store].
type MemStore struct {
	mu     sync.RWMutex
	chats  map[string]Metadata
	closed bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{chats: make(map[string]Metadata)}
}

// Load implements [Store].
func (s *MemStore) Load(_ context.Context, chatID string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.chats[chatID].Clone(), nil
}

// Save implements [Store].
func (s *MemStore) Save(_ context.Context, chatID string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.chats[chatID] = meta.Clone()
	return nil
}

// List implements [Store]. Ids are sorted.
func (s *MemStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return slices.Sorted(maps.Keys(s.chats)), nil
}

// Ping implements [Store].
func (s *MemStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store].
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers for SQL backends
// ─────────────────────────────────────────────────────────────────────────────

// Encode marshals meta for storage in a single column.
func Encode(meta Metadata) ([]byte, error) {
	if meta == nil {
		meta = Metadata{}
	}
	return json.Marshal(meta)
}

// Decode is the inverse of [Encode]. Empty input yields an empty map.
func Decode(data []byte) (Metadata, error) {
	meta := Metadata{}
	if len(data) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}
