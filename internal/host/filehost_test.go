package host_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

const chatHeader = `{"user_name":"Mina","character_name":"Rook","create_date":"2025-01-01"}`

func writeChat(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write chat: %v", err)
	}
}

func msgLine(name string, user bool, text string) string {
	b, _ := json.Marshal(host.Message{Name: name, IsUser: user, Text: text})
	return string(b)
}

func TestFileHost_ContextAndMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tavern.jsonl")
	writeChat(t, path, chatHeader, msgLine("Mina", true, "hello"), msgLine("Rook", false, "hi"))

	store := chatmeta.NewMemStore()
	h, err := host.NewFileHost(ctx, path, store, host.WithPersona("a traveller"))
	if err != nil {
		t.Fatalf("NewFileHost: %v", err)
	}
	if h.ChatID() != "tavern" {
		t.Errorf("ChatID = %q", h.ChatID())
	}

	cc, err := h.Context(ctx)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if cc.UserName != "Mina" || cc.CharName != "Rook" || len(cc.Messages) != 2 || cc.LastIndex() != 1 {
		t.Fatalf("context = %+v", cc)
	}
	if cc.Persona != "a traveller" {
		t.Errorf("persona = %q", cc.Persona)
	}

	if err := h.SetMetadata("scenario_summarizer", json.RawMessage(`{"version":3}`)); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if got, _ := store.Load(ctx, "tavern"); len(got) != 0 {
		t.Error("metadata saved before Persist")
	}
	if err := h.Persist(ctx); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	got, _ := store.Load(ctx, "tavern")
	if string(got["scenario_summarizer"]) != `{"version":3}` {
		t.Errorf("persisted = %v", got)
	}
}

func TestFileHost_UpdateMessageRewritesFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "c.jsonl")
	writeChat(t, path, chatHeader, msgLine("Mina", true, "one"), msgLine("Rook", false, "two"))

	h, err := host.NewFileHost(ctx, path, chatmeta.NewMemStore())
	if err != nil {
		t.Fatalf("NewFileHost: %v", err)
	}
	err = h.UpdateMessage(ctx, 0, func(m *host.Message) {
		m.Hidden = true
		if m.Extra == nil {
			m.Extra = map[string]any{}
		}
		m.Extra["_summarizedHidden"] = true
	})
	if err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	if err := h.UpdateMessage(ctx, 9, func(*host.Message) {}); err == nil {
		t.Error("expected out-of-range error")
	}

	h2, err := host.NewFileHost(ctx, path, chatmeta.NewMemStore())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	cc, _ := h2.Context(ctx)
	if !cc.Messages[0].Hidden || !cc.Messages[0].Flag("_summarizedHidden") {
		t.Errorf("message 0 after reopen = %+v", cc.Messages[0])
	}
	if cc.UserName != "Mina" {
		t.Error("header lost on rewrite")
	}
}

func TestFileHost_SetInjectionWritesFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "c.jsonl")
	writeChat(t, path, msgLine("Mina", true, "one"))
	out := filepath.Join(dir, "memory.txt")

	h, err := host.NewFileHost(ctx, path, chatmeta.NewMemStore(), host.WithInjectionFile(out))
	if err != nil {
		t.Fatalf("NewFileHost: %v", err)
	}
	if err := h.SetInjection(ctx, "scenario_summarizer", "[Scenario Summary]\nx", config.PositionInChat, 2); err != nil {
		t.Fatalf("SetInjection: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "[Scenario Summary]\nx" {
		t.Errorf("injection file = %q, %v", data, err)
	}
	if inj := h.Injection(); inj.Depth != 2 || inj.Position != config.PositionInChat {
		t.Errorf("Injection() = %+v", inj)
	}
}

func TestFileHost_ReloadEmitsEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "c.jsonl")
	a, b, c, d := msgLine("Mina", true, "a"), msgLine("Rook", false, "b"), msgLine("Mina", true, "c"), msgLine("Rook", false, "d")
	writeChat(t, path, chatHeader, a, b)

	h, err := host.NewFileHost(ctx, path, chatmeta.NewMemStore())
	if err != nil {
		t.Fatalf("NewFileHost: %v", err)
	}
	var got []host.Payload
	for _, ev := range []host.Event{host.EventMessageReceived, host.EventMessageDeleted, host.EventMessageSwiped} {
		h.On(ev, func(_ context.Context, p host.Payload) { got = append(got, p) })
	}

	steps := []struct {
		name  string
		lines []string
		want  []host.Payload
	}{
		{"append two", []string{chatHeader, a, b, c, d}, []host.Payload{
			{Event: host.EventMessageReceived, ChatID: "c", Index: 2},
			{Event: host.EventMessageReceived, ChatID: "c", Index: 3},
		}},
		{"swipe last", []string{chatHeader, a, b, c, msgLine("Rook", false, "d2")}, []host.Payload{
			{Event: host.EventMessageSwiped, ChatID: "c", Index: 3},
		}},
		{"delete middle", []string{chatHeader, a, c, msgLine("Rook", false, "d2")}, []host.Payload{
			{Event: host.EventMessageDeleted, ChatID: "c", Index: 1},
		}},
		{"delete tail", []string{chatHeader, a}, []host.Payload{
			{Event: host.EventMessageDeleted, ChatID: "c", Index: 1},
			{Event: host.EventMessageDeleted, ChatID: "c", Index: 1},
		}},
		{"no change", []string{chatHeader, a}, nil},
	}
	for _, st := range steps {
		got = nil
		writeChat(t, path, st.lines...)
		if err := h.Reload(ctx); err != nil {
			t.Fatalf("%s: Reload: %v", st.name, err)
		}
		if len(got) != len(st.want) {
			t.Fatalf("%s: got %+v, want %+v", st.name, got, st.want)
		}
		for i := range st.want {
			if got[i] != st.want[i] {
				t.Errorf("%s: event %d = %+v, want %+v", st.name, i, got[i], st.want[i])
			}
		}
	}
}

func TestFileHost_WatchDetectsAppend(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "w.jsonl")
	writeChat(t, path, msgLine("Mina", true, "a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h, err := host.NewFileHost(ctx, path, chatmeta.NewMemStore())
	if err != nil {
		t.Fatalf("NewFileHost: %v", err)
	}

	var mu sync.Mutex
	var events []host.Event
	received := make(chan struct{}, 1)
	h.On(host.EventChatChanged, func(_ context.Context, p host.Payload) {
		mu.Lock()
		events = append(events, p.Event)
		mu.Unlock()
	})
	h.On(host.EventMessageReceived, func(_ context.Context, p host.Payload) {
		mu.Lock()
		events = append(events, p.Event)
		mu.Unlock()
		received <- struct{}{}
	})

	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeChat(t, path, msgLine("Mina", true, "a"), msgLine("Rook", false, "b"))
	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message_received")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) < 2 || events[0] != host.EventChatChanged || events[1] != host.EventMessageReceived {
		t.Errorf("events = %v", events)
	}
}
