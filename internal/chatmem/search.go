package chatmem

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
)

// HitSource names where a search hit was found.
type HitSource string

const (
	SourceLegacy    HitSource = "legacy"
	SourceSummary   HitSource = "summary"
	SourceCharacter HitSource = "character"
	SourceEvent     HitSource = "event"
	SourceItem      HitSource = "item"
)

// SearchHit is one match of [Store.Search].
type SearchHit struct {
	Source HitSource

	// Index is the message index for summaries, the order for legacy
	// entries and -1 for catalog entries.
	Index int

	// Key is the character name or the event/item id.
	Key string

	Snippet string
}

const snippetRadius = 40

// Search finds entries containing q, ignoring case. Legacy entries come
// first, then summaries by index, then characters, events and items. Group
// members are not reported separately from their head.
func (s *Store) Search(ctx context.Context, q string) []SearchHit {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	needle := strings.ToLower(q)
	var hits []SearchHit
	s.view(ctx, "search", func(m *ChatMemory, _ *host.ChatContext) {
		legacy := slices.Clone(m.LegacySummaries)
		slices.SortStableFunc(legacy, func(a, b LegacyEntry) int { return cmp.Compare(a.Order, b.Order) })
		for _, l := range legacy {
			if snip, ok := match(l.Content, needle); ok {
				hits = append(hits, SearchHit{Source: SourceLegacy, Index: l.Order, Snippet: snip})
			}
		}
		for _, i := range m.SortedIndices() {
			e := m.Summaries[i]
			if e.Kind().Tag == KindGroupMember {
				continue
			}
			if snip, ok := match(e.Content, needle); ok {
				hits = append(hits, SearchHit{Source: SourceSummary, Index: i, Snippet: snip})
			}
		}
		for _, name := range sortedKeys(m.Characters) {
			c := m.Characters[name]
			text := strings.Join([]string{c.Name, c.Role, c.Occupation, c.Description, c.RelationshipWithUser, strings.Join(c.Traits, ", ")}, " | ")
			if snip, ok := match(text, needle); ok {
				hits = append(hits, SearchHit{Source: SourceCharacter, Index: -1, Key: name, Snippet: snip})
			}
		}
		for _, e := range m.Events {
			text := e.Title + " | " + e.Description + " | " + strings.Join(e.Participants, ", ")
			if snip, ok := match(text, needle); ok {
				hits = append(hits, SearchHit{Source: SourceEvent, Index: -1, Key: e.ID, Snippet: snip})
			}
		}
		for _, it := range m.Items {
			text := strings.Join([]string{it.Name, it.Description, it.Owner, it.Origin, it.Status}, " | ")
			if snip, ok := match(text, needle); ok {
				hits = append(hits, SearchHit{Source: SourceItem, Index: -1, Key: it.ID, Snippet: snip})
			}
		}
	})
	return hits
}

// match reports whether text contains needle (already lower-cased) and
// returns a snippet around the first occurrence.
func match(text, needle string) (string, bool) {
	lower := strings.ToLower(text)
	pos := strings.Index(lower, needle)
	if pos < 0 {
		return "", false
	}
	// Work in runes so multi-byte text is not cut mid-character. ToLower
	// can change byte lengths, so map the position through the lowered text.
	lr := []rune(lower)
	tr := []rune(text)
	start := len([]rune(lower[:pos]))
	end := start + len([]rune(needle))
	if len(lr) != len(tr) {
		return strings.TrimSpace(text), true
	}
	from := max(0, start-snippetRadius)
	to := min(len(tr), end+snippetRadius)
	snip := strings.ReplaceAll(string(tr[from:to]), "\n", " ")
	if from > 0 {
		snip = "…" + snip
	}
	if to < len(tr) {
		snip += "…"
	}
	return snip, true
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// Stats summarizes the memory for status reports.
type Stats struct {
	Version             int
	Individual          int
	Groups              int
	Members             int
	Empty               int
	ParseFailed         int
	Incomplete          int
	Invalidated         int
	Pinned              int
	Legacy              int
	Characters          int
	Events              int
	Items               int
	LastSummarizedIndex int
}

// Stats counts entries by kind and flag.
func (s *Store) Stats(ctx context.Context) Stats {
	st := Stats{LastSummarizedIndex: -1}
	s.view(ctx, "stats", func(m *ChatMemory, _ *host.ChatContext) {
		st.Version = m.Version
		st.LastSummarizedIndex = m.LastSummarizedIndex
		for _, e := range m.Summaries {
			k := e.Kind()
			switch k.Tag {
			case KindIndividual:
				st.Individual++
			case KindGroupHead:
				st.Groups++
			case KindGroupMember:
				st.Members++
			default:
				st.Empty++
			}
			switch k.Failure {
			case FailureParseFailed:
				st.ParseFailed++
			case FailureIncomplete:
				st.Incomplete++
			}
			if e.Invalidated {
				st.Invalidated++
			}
			if e.Pinned {
				st.Pinned++
			}
		}
		st.Legacy = len(m.LegacySummaries)
		st.Characters = len(m.Characters)
		st.Events = len(m.Events)
		st.Items = len(m.Items)
	})
	return st
}
