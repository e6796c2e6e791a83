package opstate

import (
	"sync"
	"time"
)

// DefaultErrorCapacity is the number of entries kept before the oldest is
// evicted.
const DefaultErrorCapacity = 50

// ErrorEntry is one recorded failure.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
}

// ErrorLog is an append-only ring of recent failures. Components that swallow
// errors (store, visibility, injector) record them here so a status report
// can show them later.
type ErrorLog struct {
	mu    sync.Mutex
	buf   []ErrorEntry
	start int
	n     int
	now   func() time.Time
}

// NewErrorLog returns a ring holding at most capacity entries. A
// non-positive capacity falls back to [DefaultErrorCapacity].
func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = DefaultErrorCapacity
	}
	return &ErrorLog{buf: make([]ErrorEntry, capacity), now: time.Now}
}

// Add records err under op. A nil err is ignored.
func (l *ErrorLog) Add(op string, err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e := ErrorEntry{Time: l.now(), Op: op, Message: err.Error()}
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = e
		l.n++
		return
	}
	// Full: overwrite the oldest and advance.
	l.buf[l.start] = e
	l.start = (l.start + 1) % len(l.buf)
}

// Entries returns the recorded entries, oldest first.
func (l *ErrorLog) Entries() []ErrorEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ErrorEntry, l.n)
	for i := range l.n {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Len returns the number of entries currently held.
func (l *ErrorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Clear drops every entry.
func (l *ErrorLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.buf)
	l.start = 0
	l.n = 0
}
