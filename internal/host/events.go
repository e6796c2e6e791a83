package host

import (
	"context"
	"log/slog"
	"sync"
)

// Event names a host lifecycle event.
type Event string

const (
	EventChatChanged       Event = "chat_changed"
	EventMessageReceived   Event = "message_received"
	EventGenerationStarted Event = "generation_started"
	EventGenerationEnded   Event = "generation_ended"
	EventMessageSwiped     Event = "message_swiped"
	EventMessageDeleted    Event = "message_deleted"
	EventBeforeGeneration  Event = "before_generation"
)

// Payload is delivered with every event. Index is the affected message for
// received, swiped and deleted events and -1 otherwise.
type Payload struct {
	Event  Event
	ChatID string
	Index  int
}

// Handler reacts to one event.
type Handler func(ctx context.Context, p Payload)

// Bus is an in-process event dispatcher. Publish calls handlers in
// subscription order on the caller's goroutine, so events are observed in
// arrival order. A panicking handler is logged and does not stop the others.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Event][]subscription
}

type subscription struct {
	id int
	h  Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Event][]subscription)}
}

// On subscribes h to ev.
func (b *Bus) On(ev Event, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[ev] = append(b.handlers[ev], subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[ev]
			for i, s := range subs {
				if s.id == id {
					b.handlers[ev] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers p to every handler subscribed to p.Event.
func (b *Bus) Publish(ctx context.Context, p Payload) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[p.Event]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(ctx, s.h, p)
	}
}

// Subscribers returns the number of handlers registered for ev.
func (b *Bus) Subscribers(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[ev])
}

func (b *Bus) dispatch(ctx context.Context, h Handler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("host: event handler panicked", "event", p.Event, "index", p.Index, "panic", r)
		}
	}()
	h(ctx, p)
}
