// Package opstate holds the process-local advisory flags that coordinate the
// summarizer, the event bindings and the injection rebuilds.
//
// None of the flags block. Callers check them before starting work and give
// up when the flag says another operation owns the resource. The only flag
// with acquire semantics is the summarizing flag, which is taken with a
// compare-and-swap so that at most one summarization runs at a time.
//
// All types are safe for concurrent use.
package opstate

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the advisory lock set. The zero value is not usable; create one
// with [New].
type State struct {
	summarizing atomic.Bool
	stop        atomic.Bool
	generating  atomic.Bool

	mu            sync.Mutex
	cooldownUntil time.Time
	now           func() time.Time

	errors *ErrorLog
}

// Option configures a [State].
type Option func(*State)

// WithClock replaces time.Now. Tests use it to step through cooldowns.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithErrorLog shares an existing error ring instead of creating one.
func WithErrorLog(l *ErrorLog) Option {
	return func(s *State) {
		if l != nil {
			s.errors = l
		}
	}
}

// New returns a State with every flag cleared.
func New(opts ...Option) *State {
	s := &State{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.errors == nil {
		s.errors = NewErrorLog(DefaultErrorCapacity)
	}
	return s
}

// TryBeginSummary claims the summarizing flag. It returns false when a
// summarization is already running. A successful claim also clears any stale
// stop request.
func (s *State) TryBeginSummary() bool {
	if !s.summarizing.CompareAndSwap(false, true) {
		return false
	}
	s.stop.Store(false)
	return true
}

// EndSummary releases the summarizing flag and clears the stop request.
func (s *State) EndSummary() {
	s.stop.Store(false)
	s.summarizing.Store(false)
}

// Summarizing reports whether a summarization currently holds the flag.
func (s *State) Summarizing() bool { return s.summarizing.Load() }

// RequestStop asks the running summarization to stop at its next check. It
// is a no-op when nothing is running.
func (s *State) RequestStop() {
	if s.summarizing.Load() {
		s.stop.Store(true)
	}
}

// ShouldStop reports whether a stop was requested.
func (s *State) ShouldStop() bool { return s.stop.Load() }

// ResetStop clears a pending stop request.
func (s *State) ResetStop() { s.stop.Store(false) }

// SetGenerating records whether the host is generating a reply.
func (s *State) SetGenerating(v bool) { s.generating.Store(v) }

// Generating reports whether the host is generating a reply.
func (s *State) Generating() bool { return s.generating.Load() }

// StartCooldown suppresses automatic work for d from now. A later call
// replaces the deadline, so switching chats twice restarts the window.
func (s *State) StartCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		s.cooldownUntil = time.Time{}
		return
	}
	s.cooldownUntil = s.now().Add(d)
}

// CoolingDown reports whether the cooldown window is still open.
func (s *State) CoolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.cooldownUntil)
}

// Errors returns the bounded error log.
func (s *State) Errors() *ErrorLog { return s.errors }

// Snapshot is a point-in-time copy of the flags, used by status reports.
type Snapshot struct {
	Summarizing   bool
	StopRequested bool
	Generating    bool
	CoolingDown   bool
	ErrorCount    int
}

// Snapshot returns the current flag values.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Summarizing:   s.Summarizing(),
		StopRequested: s.ShouldStop(),
		Generating:    s.Generating(),
		CoolingDown:   s.CoolingDown(),
		ErrorCount:    s.errors.Len(),
	}
}
