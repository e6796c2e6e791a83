// Package chatmem is the per-chat summary store.
//
// A [ChatMemory] holds individual and group summaries keyed by message index,
// summaries carried over from earlier chats, and the character, event and
// item catalogs extracted alongside them. It is stored as JSON under
// [MetadataKey] in the host's chat metadata and migrated from older shapes on
// load.
//
// [Store] owns the memory of the open chat and is the only writer. It keeps
// the group invariants intact under message deletion, swipes and branch
// switches: a group header "#S-E" lives at index S, every index in (S, E]
// holds an included sentinel pointing back at it, and no two groups overlap.
package chatmem

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// MetadataKey is the chat metadata key the memory is stored under.
const MetadataKey = "scenario_summarizer"

// CurrentVersion is the schema version written by this package.
const CurrentVersion = 3

// MaxTraits caps CharacterEntry.Traits.
const MaxTraits = 10

// Millis is a wall-clock stamp in milliseconds since the Unix epoch. It
// decodes from a JSON number or from an RFC 3339 string.
type Millis int64

// MillisOf converts t.
func MillisOf(t time.Time) Millis { return Millis(t.UnixMilli()) }

// Time converts m back to a time.Time.
func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)) }

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*m = Millis(n)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("chatmem: timestamp %q: %w", s, err)
		}
		*m = MillisOf(t)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Millis(int64(f))
	return nil
}

// SummaryEntry is the summary stored at one message index.
type SummaryEntry struct {
	MessageIndex int    `json:"messageIndex"`
	Content      string `json:"content"`
	Timestamp    Millis `json:"timestamp"`

	Pinned        bool   `json:"pinned,omitempty"`
	Invalidated   bool   `json:"invalidated,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	MigratedFrom  string `json:"migratedFrom,omitempty"`

	kind   SummaryKind
	parsed bool
}

// Kind returns the parsed shape of Content. Entries produced by the store
// carry it precomputed.
func (e SummaryEntry) Kind() SummaryKind {
	if e.parsed {
		return e.kind
	}
	return ParseKind(e.Content)
}

// withContent returns e with Content replaced and its kind recomputed.
func (e SummaryEntry) withContent(content string) SummaryEntry {
	e.Content = content
	e.kind = ParseKind(content)
	e.parsed = true
	return e
}

// reparse refreshes the cached kind.
func (e SummaryEntry) reparse() SummaryEntry { return e.withContent(e.Content) }

// Span returns the message range the entry stands for: the group range for
// heads and members, the entry's own index otherwise.
func (e SummaryEntry) Span(index int) Range {
	k := e.Kind()
	if k.Tag == KindGroupHead || k.Tag == KindGroupMember {
		return k.Range
	}
	return Range{Start: index, End: index}
}

// LegacyEntry is a summary imported from another chat.
type LegacyEntry struct {
	Order         int    `json:"order"`
	Content       string `json:"content"`
	Timestamp     Millis `json:"timestamp"`
	ImportedFrom  string `json:"importedFrom,omitempty"`
	OriginalIndex *int   `json:"originalIndex,omitempty"`
	ImportDate    Millis `json:"importDate,omitempty"`
}

// CharacterEntry is one catalogued character, keyed by canonical name.
type CharacterEntry struct {
	Name                 string   `json:"name"`
	Role                 string   `json:"role"`
	Age                  string   `json:"age"`
	Occupation           string   `json:"occupation"`
	Description          string   `json:"description"`
	Traits               []string `json:"traits"`
	RelationshipWithUser string   `json:"relationshipWithUser"`
	FirstAppearance      *int     `json:"firstAppearance"`
	CreatedAt            Millis   `json:"createdAt"`
	LastUpdate           Millis   `json:"lastUpdate"`
}

// Importance grades an event.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// ParseImportance maps free text onto an [Importance], defaulting to medium.
func ParseImportance(s string) Importance {
	switch Importance(s) {
	case ImportanceHigh, ImportanceLow:
		return Importance(s)
	}
	return ImportanceMedium
}

// EventEntry is one catalogued story event.
type EventEntry struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	MessageIndex *int       `json:"messageIndex"`
	Participants []string   `json:"participants"`
	Importance   Importance `json:"importance"`
	CreatedAt    Millis     `json:"createdAt"`
	UpdatedAt    Millis     `json:"updatedAt"`
}

// ItemEntry is one catalogued item.
type ItemEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Owner        string `json:"owner"`
	Origin       string `json:"origin"`
	Status       string `json:"status"`
	MessageIndex *int   `json:"messageIndex"`
	CreatedAt    Millis `json:"createdAt"`
	UpdatedAt    Millis `json:"updatedAt"`
}

// ChatMemory is the persisted state of one chat.
type ChatMemory struct {
	Version             int                       `json:"version"`
	Summaries           map[int]SummaryEntry      `json:"summaries"`
	LegacySummaries     []LegacyEntry             `json:"legacySummaries"`
	Characters          map[string]CharacterEntry `json:"characters"`
	Events              []EventEntry              `json:"events"`
	Items               []ItemEntry               `json:"items"`
	LastSummarizedIndex int                       `json:"lastSummarizedIndex"`
	LastUpdate          Millis                    `json:"lastUpdate"`
}

// NewChatMemory returns an empty memory at the current version.
func NewChatMemory() ChatMemory {
	return ChatMemory{
		Version:             CurrentVersion,
		Summaries:           map[int]SummaryEntry{},
		LegacySummaries:     []LegacyEntry{},
		Characters:          map[string]CharacterEntry{},
		Events:              []EventEntry{},
		Items:               []ItemEntry{},
		LastSummarizedIndex: -1,
	}
}

// Clone returns a deep copy.
func (m ChatMemory) Clone() ChatMemory {
	out := m
	out.Summaries = maps.Clone(m.Summaries)
	if out.Summaries == nil {
		out.Summaries = map[int]SummaryEntry{}
	}
	out.LegacySummaries = make([]LegacyEntry, len(m.LegacySummaries))
	for i, l := range m.LegacySummaries {
		l.OriginalIndex = cloneInt(l.OriginalIndex)
		out.LegacySummaries[i] = l
	}
	out.Characters = make(map[string]CharacterEntry, len(m.Characters))
	for k, c := range m.Characters {
		c.Traits = slices.Clone(c.Traits)
		c.FirstAppearance = cloneInt(c.FirstAppearance)
		out.Characters[k] = c
	}
	out.Events = make([]EventEntry, len(m.Events))
	for i, e := range m.Events {
		e.Participants = slices.Clone(e.Participants)
		e.MessageIndex = cloneInt(e.MessageIndex)
		out.Events[i] = e
	}
	out.Items = make([]ItemEntry, len(m.Items))
	for i, it := range m.Items {
		it.MessageIndex = cloneInt(it.MessageIndex)
		out.Items[i] = it
	}
	return out
}

// recomputeLast sets LastSummarizedIndex to the highest summary key, or -1.
func (m *ChatMemory) recomputeLast() {
	m.LastSummarizedIndex = -1
	for i := range m.Summaries {
		if i > m.LastSummarizedIndex {
			m.LastSummarizedIndex = i
		}
	}
}

// SortedIndices returns the summary keys in ascending order.
func (m ChatMemory) SortedIndices() []int {
	return slices.Sorted(maps.Keys(m.Summaries))
}

// IntPtr returns a pointer to a copy of v.
func IntPtr(v int) *int { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	return IntPtr(*p)
}
