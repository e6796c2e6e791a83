package chatmem

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
)

// RelevantSummaries returns the entries whose index, or group end, is within
// the current chat. Entries without content are skipped.
func (s *Store) RelevantSummaries(ctx context.Context) map[int]SummaryEntry {
	out := map[int]SummaryEntry{}
	s.view(ctx, "relevant summaries", func(m *ChatMemory, cc *host.ChatContext) {
		last := cc.LastIndex()
		for i, e := range m.Summaries {
			if e.Kind().Tag == KindEmpty {
				continue
			}
			if e.Span(i).End <= last && i <= last {
				out[i] = e
			}
		}
	})
	return out
}

// Summary returns the entry stored at index.
func (s *Store) Summary(ctx context.Context, index int) (SummaryEntry, bool) {
	var e SummaryEntry
	var ok bool
	s.view(ctx, "summary", func(m *ChatMemory, _ *host.ChatContext) {
		e, ok = m.Summaries[index]
	})
	return e, ok
}

// SetSummary upserts the summary at index. Content that starts with a group
// header "#S-E" with S == index is stored as a group. Writing over a member
// or head of another group removes that group first. The pinned flag of an
// overwritten entry survives.
func (s *Store) SetSummary(ctx context.Context, index int, content string) {
	if index < 0 {
		return
	}
	s.mutate(ctx, "set summary", func(m *ChatMemory, _ *host.ChatContext) bool {
		content = canonicalSentinel(content)
		k := ParseKind(content)
		if k.Tag == KindGroupHead && k.Range.Start == index && k.Range.End >= index {
			setGroup(m, k.Range, content, s.stamp())
			return true
		}
		pinned := false
		if old, ok := m.Summaries[index]; ok {
			prev := old.Kind()
			if prev.Tag == KindGroupHead || prev.Tag == KindGroupMember {
				if prev.Tag == KindGroupHead {
					pinned = old.Pinned
				}
				removeGroup(m, prev.Range)
			} else {
				pinned = old.Pinned
			}
		}
		m.Summaries[index] = SummaryEntry{
			MessageIndex: index,
			Timestamp:    s.stamp(),
			Pinned:       pinned,
		}.withContent(content)
		return true
	})
}

// SetGroupSummary stores body as the group summary for r, writing included
// sentinels at r.Start+1..r.End. Any entry or group overlapping r is removed
// first.
func (s *Store) SetGroupSummary(ctx context.Context, r Range, body string) {
	if r.Start < 0 || r.End < r.Start {
		return
	}
	s.mutate(ctx, "set group summary", func(m *ChatMemory, _ *host.ChatContext) bool {
		setGroup(m, r, body, s.stamp())
		return true
	})
}

func setGroup(m *ChatMemory, r Range, body string, ts Millis) {
	pinned := false
	if old, ok := m.Summaries[r.Start]; ok && old.Pinned {
		pinned = true
	}
	for i, e := range m.Summaries {
		span := e.Span(i)
		if !span.Overlaps(r) && !r.Contains(i) {
			continue
		}
		k := e.Kind()
		if k.Tag == KindGroupHead || k.Tag == KindGroupMember {
			removeGroup(m, k.Range)
		}
		delete(m.Summaries, i)
	}
	m.Summaries[r.Start] = SummaryEntry{
		MessageIndex: r.Start,
		Timestamp:    ts,
		Pinned:       pinned,
	}.withContent(WithHeader(r.String(), body))
	for i := r.Start + 1; i <= r.End; i++ {
		m.Summaries[i] = SummaryEntry{MessageIndex: i, Timestamp: ts}.withContent(Sentinel(r))
	}
}

// removeGroup deletes the head and members of r and returns the removed
// indices.
func removeGroup(m *ChatMemory, r Range) []int {
	var removed []int
	for i := r.Start; i <= r.End; i++ {
		e, ok := m.Summaries[i]
		if !ok {
			continue
		}
		k := e.Kind()
		if (k.Tag == KindGroupHead || k.Tag == KindGroupMember) && k.Range == r {
			delete(m.Summaries, i)
			removed = append(removed, i)
		}
	}
	return removed
}

// DeleteSummary removes the entry at index. A group head or member removes
// the whole group. It returns the removed indices in ascending order.
func (s *Store) DeleteSummary(ctx context.Context, index int) []int {
	var removed []int
	s.mutate(ctx, "delete summary", func(m *ChatMemory, _ *host.ChatContext) bool {
		e, ok := m.Summaries[index]
		if !ok {
			return false
		}
		k := e.Kind()
		if k.Tag == KindGroupHead || k.Tag == KindGroupMember {
			removed = removeGroup(m, k.Range)
			if !slices.Contains(removed, index) {
				delete(m.Summaries, index)
				removed = append(removed, index)
			}
		} else {
			delete(m.Summaries, index)
			removed = []int{index}
		}
		slices.Sort(removed)
		return true
	})
	return removed
}

// shiftRange applies the deletion of message d to r: every bound at or past
// d moves down by one, except a start equal to d, which stays so the group is
// re-homed on the message that slid into its place. ok is false when the
// range became empty.
func shiftRange(r Range, d int) (Range, bool) {
	out := r
	if r.Start > d {
		out.Start--
	}
	if r.End >= d {
		out.End--
	}
	return out, out.Start <= out.End
}

// RemapAfterDeletion rekeys the summaries after message d was deleted from
// the chat. The entry at d is dropped, later entries move down by one and
// group ranges shrink or shift accordingly. A group whose head was deleted
// keeps its summary, re-homed at its start index.
func (s *Store) RemapAfterDeletion(ctx context.Context, d int) {
	if d < 0 {
		return
	}
	s.mutate(ctx, "remap after deletion", func(m *ChatMemory, _ *host.ChatContext) bool {
		if len(m.Summaries) == 0 {
			return false
		}
		m.Summaries = remap(m.Summaries, d)
		return true
	})
}

func remap(in map[int]SummaryEntry, d int) map[int]SummaryEntry {
	next := make(map[int]SummaryEntry, len(in))

	// Heads first so that a member sliding into a re-homed head's slot loses.
	for _, i := range slices.Sorted(maps.Keys(in)) {
		e := in[i]
		k := e.Kind()
		if k.Tag != KindGroupHead {
			continue
		}
		r, ok := shiftRange(k.Range, d)
		if !ok {
			continue
		}
		e.MessageIndex = r.Start
		next[r.Start] = e.withContent(WithHeader(r.String(), e.Content))
	}

	for _, i := range slices.Sorted(maps.Keys(in)) {
		e := in[i]
		k := e.Kind()
		if k.Tag == KindGroupHead || i == d {
			continue
		}
		ni := i
		if i > d {
			ni = i - 1
		}
		if _, taken := next[ni]; taken {
			continue
		}
		switch k.Tag {
		case KindGroupMember:
			r, ok := shiftRange(k.Range, d)
			if !ok || ni <= r.Start || ni > r.End {
				continue
			}
			e = e.withContent(Sentinel(r))
		case KindIndividual:
			if k.Range.Start == i && ni != i {
				e = e.withContent(WithHeader(fmt.Sprintf("#%d", ni), e.Content))
			}
		}
		e.MessageIndex = ni
		next[ni] = e
	}
	return next
}

// InvalidateOnSwipe reacts to the message at index being regenerated. A
// group containing index is flagged invalidated with a reason and kept; an
// individual summary at index is deleted. It reports whether anything
// changed.
func (s *Store) InvalidateOnSwipe(ctx context.Context, index int) bool {
	return s.mutate(ctx, "invalidate on swipe", func(m *ChatMemory, _ *host.ChatContext) bool {
		changed := false
		for i, e := range m.Summaries {
			k := e.Kind()
			if k.Tag != KindGroupHead || !k.Range.Contains(index) {
				continue
			}
			e.Invalidated = true
			e.InvalidReason = fmt.Sprintf("message #%d was swiped", index)
			m.Summaries[i] = e
			changed = true
		}
		if changed {
			return true
		}
		e, ok := m.Summaries[index]
		if !ok {
			return false
		}
		if e.Kind().Tag == KindGroupMember {
			// Member of a group whose head is missing; nothing to flag.
			return false
		}
		delete(m.Summaries, index)
		return true
	})
}

// CleanupOrphans drops entries whose index or group range extends past the
// last message of the chat. It returns the number of entries removed.
func (s *Store) CleanupOrphans(ctx context.Context) int {
	n := 0
	s.mutate(ctx, "cleanup orphans", func(m *ChatMemory, cc *host.ChatContext) bool {
		last := cc.LastIndex()
		for i, e := range m.Summaries {
			if i > last || e.Span(i).End > last {
				delete(m.Summaries, i)
				n++
			}
		}
		return n > 0
	})
	return n
}

// SetPinned pins or unpins the entry at index. For a group member the group
// head is pinned. It reports whether an entry was found.
func (s *Store) SetPinned(ctx context.Context, index int, pinned bool) bool {
	found := false
	s.mutate(ctx, "set pinned", func(m *ChatMemory, _ *host.ChatContext) bool {
		e, ok := m.Summaries[index]
		if !ok {
			return false
		}
		if k := e.Kind(); k.Tag == KindGroupMember {
			index = k.Range.Start
			if e, ok = m.Summaries[index]; !ok {
				return false
			}
		}
		found = true
		if e.Pinned == pinned {
			return false
		}
		e.Pinned = pinned
		m.Summaries[index] = e
		return true
	})
	return found
}

// InvalidatedRanges returns the ranges of invalidated group summaries, and
// the single-index range of invalidated individual entries, in ascending
// order.
func (s *Store) InvalidatedRanges(ctx context.Context) []Range {
	var out []Range
	s.view(ctx, "invalidated ranges", func(m *ChatMemory, _ *host.ChatContext) {
		for _, i := range m.SortedIndices() {
			e := m.Summaries[i]
			if !e.Invalidated {
				continue
			}
			out = append(out, e.Span(i))
		}
	})
	return out
}

// FailedRanges returns the spans of entries carrying a parse-failed or
// incomplete marker, in ascending order.
func (s *Store) FailedRanges(ctx context.Context) []Range {
	var out []Range
	s.view(ctx, "failed ranges", func(m *ChatMemory, _ *host.ChatContext) {
		for _, i := range m.SortedIndices() {
			e := m.Summaries[i]
			k := e.Kind()
			if k.Tag == KindGroupMember || k.Failure == FailureNone {
				continue
			}
			out = append(out, e.Span(i))
		}
	})
	return out
}

// ClearSummaries removes every current summary and keeps legacy entries and
// catalogs.
func (s *Store) ClearSummaries(ctx context.Context) {
	s.mutate(ctx, "clear summaries", func(m *ChatMemory, _ *host.ChatContext) bool {
		if len(m.Summaries) == 0 {
			return false
		}
		m.Summaries = map[int]SummaryEntry{}
		return true
	})
}

// ClearAll resets the memory to empty.
func (s *Store) ClearAll(ctx context.Context) {
	s.mutate(ctx, "clear all", func(m *ChatMemory, _ *host.ChatContext) bool {
		*m = NewChatMemory()
		return true
	})
}
