package config

import "sync/atomic"

// Live holds the current summarizer [Settings] and lets the config watcher
// swap them while runs are in flight. Readers take a snapshot with Load at
// the start of an operation and use it throughout, so a reload never changes
// settings halfway through a run.
type Live struct {
	p atomic.Pointer[Settings]
}

// NewLive returns a holder seeded with s.
func NewLive(s Settings) *Live {
	l := &Live{}
	l.Store(s)
	return l
}

// Load returns a deep copy of the current settings.
func (l *Live) Load() Settings {
	return l.p.Load().Clone()
}

// Store replaces the current settings with a copy of s.
func (l *Live) Store(s Settings) {
	c := s.Clone()
	l.p.Store(&c)
}
