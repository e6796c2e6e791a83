// Package host defines the narrow capability surface the summarizer needs
// from the chat application that owns the messages.
//
// The core never reaches into host internals. It reads a [ChatContext]
// snapshot, writes its own metadata key, asks for persistence, edits message
// visibility through [Host.UpdateMessage], subscribes to lifecycle [Event]s,
// and hands the composed memory block to [Host.SetInjection].
package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

// ErrNoChat is returned when no chat is currently open.
var ErrNoChat = errors.New("host: no chat open")

// ErrIndexOutOfRange is returned by [Host.UpdateMessage] for an index outside
// the current chat.
var ErrIndexOutOfRange = errors.New("host: message index out of range")

// Message is one chat turn.
type Message struct {
	Name   string `json:"name"`
	IsUser bool   `json:"is_user"`
	Text   string `json:"mes"`

	// Hidden excludes the message from the prompt the host sends to its own
	// model. Both users and the visibility controller set it.
	Hidden bool `json:"is_system,omitempty"`

	// UserHidden marks a hide the user made by hand. The core never clears it.
	UserHidden bool `json:"user_hidden,omitempty"`

	// Extra carries per-message flags owned by extensions.
	Extra map[string]any `json:"extra,omitempty"`
}

// Flag reports whether Extra[key] is boolean true.
func (m Message) Flag(key string) bool {
	v, ok := m.Extra[key].(bool)
	return ok && v
}

// Character is the active character card.
type Character struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Personality string `json:"personality" yaml:"personality"`
	Scenario    string `json:"scenario" yaml:"scenario"`
}

// ChatContext is a read-only snapshot of the open chat.
type ChatContext struct {
	ChatID string

	// UserName and CharName are the display names of the two speakers.
	UserName string
	CharName string

	Messages  []Message
	Metadata  chatmeta.Metadata
	Character *Character
	Persona   string
	WorldInfo []string
}

// LastIndex returns the index of the newest message, or -1 for an empty chat.
func (c *ChatContext) LastIndex() int { return len(c.Messages) - 1 }

// Host is the capability interface consumed by the summarizer.
//
// Implementations must be safe for concurrent use.
type Host interface {
	// Context returns a snapshot of the open chat, or [ErrNoChat].
	Context(ctx context.Context) (*ChatContext, error)

	// SetMetadata replaces one key of the open chat's metadata in memory.
	// Persist writes it out.
	SetMetadata(key string, value json.RawMessage) error

	// Persist stores the open chat's metadata.
	Persist(ctx context.Context) error

	// UpdateMessage applies fn to the message at index and stores the result.
	UpdateMessage(ctx context.Context, index int, fn func(*Message)) error

	// IsUserHidden reports whether msg was hidden by the user rather than by
	// the core.
	IsUserHidden(msg Message) bool

	// On subscribes h to ev and returns a function that removes it.
	On(ev Event, h Handler) (unsubscribe func())

	// SetInjection hands the composed memory block to the host prompt hook.
	SetInjection(ctx context.Context, id, content string, pos config.InjectionPosition, depth int) error
}

// DefaultIsUserHidden is the rule most hosts want: the explicit user flag
// decides and the hidden bit alone proves nothing.
func DefaultIsUserHidden(msg Message) bool { return msg.UserHidden }
