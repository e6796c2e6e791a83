package host

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

// Injection is the last memory block handed to [FileHost.SetInjection].
type Injection struct {
	ID       string
	Content  string
	Position config.InjectionPosition
	Depth    int
}

// FileHost is a [Host] over a JSONL chat log. The first line may be a header
// object carrying user_name and character_name; every other line is one
// [Message]. Metadata lives in a [chatmeta.Store] keyed by the chat id, which
// defaults to the file name without extension.
type FileHost struct {
	path   string
	chatID string
	meta   chatmeta.Store
	bus    *Bus
	logger *slog.Logger

	isUserHidden  func(Message) bool
	character     *Character
	persona       string
	worldInfo     []string
	injectionFile string
	debounce      time.Duration

	mu        sync.Mutex
	header    json.RawMessage
	userName  string
	charName  string
	messages  []Message
	metadata  chatmeta.Metadata
	injection Injection
}

var _ Host = (*FileHost)(nil)

// FileHostOption configures a [FileHost].
type FileHostOption func(*FileHost)

// WithChatID overrides the chat id derived from the file name.
func WithChatID(id string) FileHostOption {
	return func(h *FileHost) { h.chatID = id }
}

// WithCharacter sets the character card exposed in [ChatContext].
func WithCharacter(c *Character) FileHostOption {
	return func(h *FileHost) { h.character = c }
}

// WithPersona sets the user persona text.
func WithPersona(p string) FileHostOption {
	return func(h *FileHost) { h.persona = p }
}

// WithWorldInfo sets the world info entries.
func WithWorldInfo(entries []string) FileHostOption {
	return func(h *FileHost) { h.worldInfo = slices.Clone(entries) }
}

// WithUserHiddenFunc replaces [DefaultIsUserHidden].
func WithUserHiddenFunc(fn func(Message) bool) FileHostOption {
	return func(h *FileHost) {
		if fn != nil {
			h.isUserHidden = fn
		}
	}
}

// WithInjectionFile makes SetInjection also write the block to path.
func WithInjectionFile(path string) FileHostOption {
	return func(h *FileHost) { h.injectionFile = path }
}

// WithBus shares an event bus. By default each host owns its own.
func WithBus(b *Bus) FileHostOption {
	return func(h *FileHost) {
		if b != nil {
			h.bus = b
		}
	}
}

// WithFileHostLogger sets the logger.
func WithFileHostLogger(l *slog.Logger) FileHostOption {
	return func(h *FileHost) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewFileHost reads the chat at path and its metadata from store.
func NewFileHost(ctx context.Context, path string, store chatmeta.Store, opts ...FileHostOption) (*FileHost, error) {
	h := &FileHost{
		path:         path,
		chatID:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		meta:         store,
		bus:          NewBus(),
		logger:       slog.Default(),
		isUserHidden: DefaultIsUserHidden,
		debounce:     200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(h)
	}

	header, msgs, err := readChatFile(path)
	if err != nil {
		return nil, err
	}
	meta, err := store.Load(ctx, h.chatID)
	if err != nil {
		return nil, fmt.Errorf("host: load metadata: %w", err)
	}
	h.setHeader(header)
	h.messages = msgs
	h.metadata = meta
	return h, nil
}

// ChatID returns the id under which metadata is stored.
func (h *FileHost) ChatID() string { return h.chatID }

// Bus returns the event bus handlers subscribe to.
func (h *FileHost) Bus() *Bus { return h.bus }

// Context implements [Host].
func (h *FileHost) Context(_ context.Context) (*ChatContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]Message, len(h.messages))
	for i, m := range h.messages {
		m.Extra = maps.Clone(m.Extra)
		msgs[i] = m
	}
	return &ChatContext{
		ChatID:    h.chatID,
		UserName:  h.userName,
		CharName:  h.charName,
		Messages:  msgs,
		Metadata:  h.metadata.Clone(),
		Character: h.character,
		Persona:   h.persona,
		WorldInfo: slices.Clone(h.worldInfo),
	}, nil
}

// SetMetadata implements [Host].
func (h *FileHost) SetMetadata(key string, value json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.metadata == nil {
		h.metadata = chatmeta.Metadata{}
	}
	h.metadata[key] = slices.Clone(value)
	return nil
}

// Persist implements [Host].
func (h *FileHost) Persist(ctx context.Context) error {
	h.mu.Lock()
	meta := h.metadata.Clone()
	h.mu.Unlock()
	if err := h.meta.Save(ctx, h.chatID, meta); err != nil {
		return fmt.Errorf("host: persist: %w", err)
	}
	return nil
}

// UpdateMessage implements [Host]. The chat file is rewritten atomically.
func (h *FileHost) UpdateMessage(_ context.Context, index int, fn func(*Message)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.messages) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	m := h.messages[index]
	m.Extra = maps.Clone(m.Extra)
	fn(&m)
	h.messages[index] = m
	return writeChatFile(h.path, h.header, h.messages)
}

// IsUserHidden implements [Host].
func (h *FileHost) IsUserHidden(msg Message) bool { return h.isUserHidden(msg) }

// On implements [Host].
func (h *FileHost) On(ev Event, fn Handler) func() { return h.bus.On(ev, fn) }

// SetInjection implements [Host].
func (h *FileHost) SetInjection(_ context.Context, id, content string, pos config.InjectionPosition, depth int) error {
	h.mu.Lock()
	h.injection = Injection{ID: id, Content: content, Position: pos, Depth: depth}
	h.mu.Unlock()
	if h.injectionFile == "" {
		return nil
	}
	if err := os.WriteFile(h.injectionFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("host: write injection: %w", err)
	}
	return nil
}

// Injection returns the last block passed to SetInjection.
func (h *FileHost) Injection() Injection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.injection
}

// Emit publishes an event for the open chat.
func (h *FileHost) Emit(ctx context.Context, ev Event, index int) {
	h.bus.Publish(ctx, Payload{Event: ev, ChatID: h.chatID, Index: index})
}

// ── watching ─────────────────────────────────────────────────────────────────

// Watch follows the chat file until ctx is cancelled, turning external edits
// into events. It emits [EventChatChanged] once on start.
func (h *FileHost) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("host: watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("host: watch %q: %w", h.path, err)
	}
	target := filepath.Clean(h.path)

	h.Emit(ctx, EventChatChanged, -1)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := h.Reload(ctx); err != nil {
				h.logger.Warn("host: reload failed", "path", h.path, "err", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			h.logger.Error("host: watcher error", "path", h.path, "err", err)
		}
	}
}

// Reload re-reads the chat file and publishes the events that explain the
// difference from the previous contents.
func (h *FileHost) Reload(ctx context.Context) error {
	header, msgs, err := readChatFile(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	old := h.messages
	h.setHeader(header)
	h.messages = msgs
	h.mu.Unlock()

	for _, p := range diffMessages(old, msgs) {
		p.ChatID = h.chatID
		h.bus.Publish(ctx, p)
	}
	return nil
}

// diffMessages infers host events from two versions of a chat. Growth is a
// run of received messages, shrinkage is a run of deletions starting at the
// first differing index, and a changed last message at equal length is a
// swipe.
func diffMessages(old, cur []Message) []Payload {
	var out []Payload
	switch {
	case len(cur) > len(old):
		for i := len(old); i < len(cur); i++ {
			out = append(out, Payload{Event: EventMessageReceived, Index: i})
		}
	case len(cur) < len(old):
		d := len(cur)
		for i := range cur {
			if cur[i].Text != old[i].Text || cur[i].Name != old[i].Name {
				d = i
				break
			}
		}
		for range len(old) - len(cur) {
			out = append(out, Payload{Event: EventMessageDeleted, Index: d})
		}
	case len(cur) > 0 && cur[len(cur)-1].Text != old[len(old)-1].Text:
		out = append(out, Payload{Event: EventMessageSwiped, Index: len(cur) - 1})
	}
	return out
}

// setHeader must be called with h.mu held or before h is shared.
func (h *FileHost) setHeader(header json.RawMessage) {
	h.header = header
	if header == nil {
		return
	}
	var hd struct {
		UserName      string `json:"user_name"`
		CharacterName string `json:"character_name"`
	}
	if err := json.Unmarshal(header, &hd); err == nil {
		h.userName = hd.UserName
		h.charName = hd.CharacterName
	}
	if h.charName == "" && h.character != nil {
		h.charName = h.character.Name
	}
}

// ── file format ──────────────────────────────────────────────────────────────

func readChatFile(path string) (json.RawMessage, []Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("host: open chat: %w", err)
	}
	defer f.Close()

	var header json.RawMessage
	var msgs []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		line++
		if len(raw) == 0 {
			continue
		}
		if line == 1 && isHeader(raw) {
			header = slices.Clone(raw)
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, nil, fmt.Errorf("host: chat line %d: %w", line, err)
		}
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("host: read chat: %w", err)
	}
	return header, msgs, nil
}

// isHeader reports whether a line is a chat header rather than a message.
func isHeader(raw []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	_, hasText := probe["mes"]
	return !hasText
}

func writeChatFile(path string, header json.RawMessage, msgs []Message) error {
	var buf bytes.Buffer
	if header != nil {
		buf.Write(header)
		buf.WriteByte('\n')
	}
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("host: encode message: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".chat-*.tmp")
	if err != nil {
		return fmt.Errorf("host: write chat: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("host: write chat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("host: write chat: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("host: write chat: %w", err)
	}
	return nil
}
