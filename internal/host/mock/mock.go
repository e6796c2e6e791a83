// Package mock provides an in-memory [host.Host] for tests.
//
// The mock keeps a mutable chat, records persistence and injection calls, and
// dispatches events through a real [host.Bus] so handlers run exactly as they
// would against a live host.
//
// Typical usage:
//
//	h := mock.New("chat-1", mock.Messages("a", "b", "c")...)
//	store := chatmem.NewStore(h)
//	h.Emit(ctx, host.EventMessageReceived, 2)
//	if h.PersistCount() != 1 { … }
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

// Injection records one SetInjection call.
type Injection struct {
	ID       string
	Content  string
	Position config.InjectionPosition
	Depth    int
}

// Host is a configurable test double for [host.Host].
type Host struct {
	mu sync.Mutex

	chatID    string
	messages  []host.Message
	metadata  chatmeta.Metadata
	persisted chatmeta.Metadata

	// NoChat makes Context return host.ErrNoChat.
	NoChat bool

	// Character, Persona and WorldInfo are copied into every context.
	Character *host.Character
	Persona   string
	WorldInfo []string
	UserName  string
	CharName  string

	// PersistErr is returned by Persist when non-nil.
	PersistErr error

	// InjectionErr is returned by SetInjection when non-nil.
	InjectionErr error

	// UserHidden overrides host.DefaultIsUserHidden when set.
	UserHidden func(host.Message) bool

	persistCount int
	injections   []Injection
	updates      []int

	bus *host.Bus
}

var _ host.Host = (*Host)(nil)

// New returns a mock with the given chat.
func New(chatID string, msgs ...host.Message) *Host {
	return &Host{
		chatID:   chatID,
		messages: slices.Clone(msgs),
		metadata: chatmeta.Metadata{},
		UserName: "User",
		CharName: "Char",
		bus:      host.NewBus(),
	}
}

// Messages builds alternating user/character messages from texts.
func Messages(texts ...string) []host.Message {
	out := make([]host.Message, len(texts))
	for i, t := range texts {
		out[i] = host.Message{Name: "Char", Text: t}
		if i%2 == 0 {
			out[i] = host.Message{Name: "User", IsUser: true, Text: t}
		}
	}
	return out
}

// NumberedMessages returns n messages with texts "message 0" .. "message n-1".
func NumberedMessages(n int) []host.Message {
	texts := make([]string, n)
	for i := range n {
		texts[i] = fmt.Sprintf("message %d", i)
	}
	return Messages(texts...)
}

// Context implements [host.Host].
func (h *Host) Context(_ context.Context) (*host.ChatContext, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.NoChat {
		return nil, host.ErrNoChat
	}
	msgs := make([]host.Message, len(h.messages))
	for i, m := range h.messages {
		m.Extra = maps.Clone(m.Extra)
		msgs[i] = m
	}
	return &host.ChatContext{
		ChatID:    h.chatID,
		UserName:  h.UserName,
		CharName:  h.CharName,
		Messages:  msgs,
		Metadata:  h.metadata.Clone(),
		Character: h.Character,
		Persona:   h.Persona,
		WorldInfo: slices.Clone(h.WorldInfo),
	}, nil
}

// SetMetadata implements [host.Host].
func (h *Host) SetMetadata(key string, value json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = slices.Clone(value)
	return nil
}

// Persist implements [host.Host].
func (h *Host) Persist(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.persistCount++
	if h.PersistErr != nil {
		return h.PersistErr
	}
	h.persisted = h.metadata.Clone()
	return nil
}

// UpdateMessage implements [host.Host].
func (h *Host) UpdateMessage(_ context.Context, index int, fn func(*host.Message)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.messages) {
		return fmt.Errorf("%w: %d", host.ErrIndexOutOfRange, index)
	}
	m := h.messages[index]
	m.Extra = maps.Clone(m.Extra)
	fn(&m)
	h.messages[index] = m
	h.updates = append(h.updates, index)
	return nil
}

// IsUserHidden implements [host.Host].
func (h *Host) IsUserHidden(msg host.Message) bool {
	if h.UserHidden != nil {
		return h.UserHidden(msg)
	}
	return host.DefaultIsUserHidden(msg)
}

// On implements [host.Host].
func (h *Host) On(ev host.Event, fn host.Handler) func() { return h.bus.On(ev, fn) }

// SetInjection implements [host.Host].
func (h *Host) SetInjection(_ context.Context, id, content string, pos config.InjectionPosition, depth int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.InjectionErr != nil {
		return h.InjectionErr
	}
	h.injections = append(h.injections, Injection{ID: id, Content: content, Position: pos, Depth: depth})
	return nil
}

// ── test helpers ─────────────────────────────────────────────────────────────

// Emit publishes an event on the mock's bus.
func (h *Host) Emit(ctx context.Context, ev host.Event, index int) {
	h.bus.Publish(ctx, host.Payload{Event: ev, ChatID: h.chatID, Index: index})
}

// Subscribers returns the number of handlers registered for ev.
func (h *Host) Subscribers(ev host.Event) int { return h.bus.Subscribers(ev) }

// SetMessages replaces the chat.
func (h *Host) SetMessages(msgs []host.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = slices.Clone(msgs)
}

// AppendMessage adds a message at the end of the chat and returns its index.
func (h *Host) AppendMessage(m host.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, m)
	return len(h.messages) - 1
}

// DeleteMessage removes the message at index.
func (h *Host) DeleteMessage(index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = slices.Delete(h.messages, index, index+1)
}

// Message returns a copy of the message at index.
func (h *Host) Message(index int) host.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.messages[index]
}

// SwitchChat replaces the chat id, messages and metadata as a chat change
// would.
func (h *Host) SwitchChat(chatID string, msgs []host.Message, meta chatmeta.Metadata) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chatID = chatID
	h.messages = slices.Clone(msgs)
	h.metadata = meta.Clone()
}

// SetRawMetadata stores value under key without counting as a persist.
func (h *Host) SetRawMetadata(key string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata[key] = json.RawMessage(value)
}

// Metadata returns the in-memory value stored under key.
func (h *Host) Metadata(key string) json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.metadata[key])
}

// Persisted returns the value under key as of the last successful Persist.
func (h *Host) Persisted(key string) json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.persisted[key])
}

// PersistCount returns the number of Persist calls.
func (h *Host) PersistCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.persistCount
}

// Injections returns every recorded SetInjection call.
func (h *Host) Injections() []Injection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.injections)
}

// LastInjection returns the most recent SetInjection call.
func (h *Host) LastInjection() (Injection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.injections) == 0 {
		return Injection{}, false
	}
	return h.injections[len(h.injections)-1], true
}

// Updates returns the indices passed to UpdateMessage, in call order.
func (h *Host) Updates() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.updates)
}
