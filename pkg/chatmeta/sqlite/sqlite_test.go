package sqlite_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta/sqlite"
)

func newTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta", "test.db")
	s, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_SaveLoadOverwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newTestStore(t)

	got, err := s.Load(ctx, "nope")
	if err != nil || len(got) != 0 {
		t.Fatalf("Load unknown = %v, %v", got, err)
	}

	first := chatmeta.Metadata{"scenario_summarizer": json.RawMessage(`{"version":3,"summaries":{}}`)}
	if err := s.Save(ctx, "chat-1", first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := chatmeta.Metadata{
		"scenario_summarizer": json.RawMessage(`{"version":3}`),
		"other":               json.RawMessage(`true`),
	}
	if err := s.Save(ctx, "chat-1", second); err != nil {
		t.Fatalf("save overwrite: %v", err)
	}

	got, err = s.Load(ctx, "chat-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got["scenario_summarizer"]) != `{"version":3}` || string(got["other"]) != "true" {
		t.Errorf("loaded = %v", got)
	}

	ids, err := s.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "chat-1" {
		t.Errorf("List = %v, %v", ids, err)
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, path := newTestStore(t)
	if err := s.Save(ctx, "c", chatmeta.Metadata{"k": json.RawMessage(`1`)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if err := s2.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	got, err := s2.Load(ctx, "c")
	if err != nil || string(got["k"]) != "1" {
		t.Errorf("after reopen = %v, %v", got, err)
	}
}
