package chatmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
)

// ErrInvalidImport is returned by [Store.Import] for data that is not a
// memory document.
var ErrInvalidImport = errors.New("chatmem: invalid import data")

// Store owns the [ChatMemory] of the host's open chat.
//
// Mutating operations never return errors: a host failure is logged, recorded
// in the error ring, and turns the call into a no-op. Only [Store.Save],
// [Store.Export] and [Store.Import] report errors because their callers act on
// them.
//
// The memory is loaded lazily and reloaded whenever the host reports a
// different chat id. All methods are safe for concurrent use.
type Store struct {
	host   host.Host
	logger *slog.Logger
	errs   *opstate.ErrorLog
	now    func() time.Time

	mu      sync.Mutex
	chatID  string
	loaded  bool
	mem     ChatMemory
	gen     uint64
	nextSub int
	onWrite map[int]func()
}

// Option configures a [Store].
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorLog records swallowed failures in l.
func WithErrorLog(l *opstate.ErrorLog) Option {
	return func(s *Store) { s.errs = l }
}

// WithClock replaces time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a store reading and writing through h.
func NewStore(h host.Host, opts ...Option) *Store {
	s := &Store{
		host:    h,
		logger:  slog.Default(),
		now:     time.Now,
		onWrite: map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnWrite registers fn to run after every change to the memory, including a
// reload for a different chat. fn runs outside the store lock. The returned
// function removes the registration.
func (s *Store) OnWrite(fn func()) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.onWrite[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.onWrite, id)
	}
}

// Generation increases on every change. Caches compare it to detect staleness.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Memory returns a deep copy of the open chat's memory.
func (s *Store) Memory(ctx context.Context) ChatMemory {
	var out ChatMemory
	s.view(ctx, "memory", func(m *ChatMemory, _ *host.ChatContext) {
		out = m.Clone()
	})
	if out.Summaries == nil {
		return NewChatMemory()
	}
	return out
}

// Reload discards the cached memory and reads it again from the host.
func (s *Store) Reload(ctx context.Context) (MigrationReport, error) {
	cc, err := s.host.Context(ctx)
	if err != nil {
		s.record("reload", err)
		return MigrationReport{}, fmt.Errorf("chatmem: reload: %w", err)
	}
	s.mu.Lock()
	rep := s.loadLocked(cc)
	listeners := s.listenersLocked()
	s.mu.Unlock()
	notify(listeners)
	return rep, nil
}

// Save writes the memory into the host metadata and asks the host to
// persist it.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.mem.Version = CurrentVersion
	data, err := json.Marshal(s.mem)
	s.mu.Unlock()
	if err != nil {
		s.record("save", err)
		return fmt.Errorf("chatmem: encode: %w", err)
	}
	if err := s.host.SetMetadata(MetadataKey, data); err != nil {
		s.record("save", err)
		return fmt.Errorf("chatmem: set metadata: %w", err)
	}
	if err := s.host.Persist(ctx); err != nil {
		s.record("save", err)
		return fmt.Errorf("chatmem: persist: %w", err)
	}
	return nil
}

// ── internals ────────────────────────────────────────────────────────────────

// view runs fn with the current memory under the lock. fn must not retain m.
func (s *Store) view(ctx context.Context, op string, fn func(m *ChatMemory, cc *host.ChatContext)) bool {
	cc, err := s.host.Context(ctx)
	if err != nil {
		s.record(op, err)
		return false
	}
	s.mu.Lock()
	var listeners []func()
	if !s.loaded || s.chatID != cc.ChatID {
		s.loadLocked(cc)
		listeners = s.listenersLocked()
	}
	fn(&s.mem, cc)
	s.mu.Unlock()
	notify(listeners)
	return true
}

// mutate runs fn under the lock and, when it reports a change, stamps the
// memory and notifies write listeners.
func (s *Store) mutate(ctx context.Context, op string, fn func(m *ChatMemory, cc *host.ChatContext) bool) bool {
	cc, err := s.host.Context(ctx)
	if err != nil {
		s.record(op, err)
		return false
	}
	s.mu.Lock()
	reloaded := false
	if !s.loaded || s.chatID != cc.ChatID {
		s.loadLocked(cc)
		reloaded = true
	}
	changed := fn(&s.mem, cc)
	if changed {
		s.mem.Version = CurrentVersion
		s.mem.recomputeLast()
		s.mem.LastUpdate = MillisOf(s.now())
		s.gen++
	}
	var listeners []func()
	if changed || reloaded {
		listeners = s.listenersLocked()
	}
	s.mu.Unlock()
	notify(listeners)
	return changed
}

// loadLocked replaces the cached memory with the host's stored document.
func (s *Store) loadLocked(cc *host.ChatContext) MigrationReport {
	mem, rep, err := Decode(cc.Metadata[MetadataKey])
	if err != nil {
		s.record("load", err)
	}
	for _, d := range rep.Dropped {
		s.logger.Warn("chatmem: dropped corrupt record", "chat_id", cc.ChatID, "record", d)
		s.record("load", errors.New(d))
	}
	if rep.Converted > 0 {
		s.logger.Info("chatmem: migrated memory",
			"chat_id", cc.ChatID,
			"from_version", rep.FromVersion,
			"converted", rep.Converted)
	}
	s.mem = mem
	s.chatID = cc.ChatID
	s.loaded = true
	s.gen++
	return rep
}

func (s *Store) listenersLocked() []func() {
	out := make([]func(), 0, len(s.onWrite))
	for _, fn := range s.onWrite {
		out = append(out, fn)
	}
	return out
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) record(op string, err error) {
	if errors.Is(err, host.ErrNoChat) {
		s.logger.Debug("chatmem: no chat open", "op", op)
	} else {
		s.logger.Warn("chatmem: operation failed", "op", op, "err", err)
	}
	if s.errs != nil {
		s.errs.Add("chatmem."+op, err)
	}
}

func (s *Store) stamp() Millis { return MillisOf(s.now()) }
