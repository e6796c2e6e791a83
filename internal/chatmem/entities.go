package chatmem

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
)

// MergeCharacters folds extracted characters into the catalog. An existing
// entry changes only where the extracted field is non-empty and different.
// A new entry takes its first appearance from the extracted value or, when
// that is null, from fallbackIndex. Traits are capped at [MaxTraits].
// It returns the number of entries added or updated.
func (s *Store) MergeCharacters(ctx context.Context, chars []CharacterEntry, fallbackIndex int) int {
	n := 0
	s.mutate(ctx, "merge characters", func(m *ChatMemory, _ *host.ChatContext) bool {
		n = mergeCharacters(m, chars, fallbackIndex, s.stamp())
		return n > 0
	})
	return n
}

func mergeCharacters(m *ChatMemory, chars []CharacterEntry, fallbackIndex int, now Millis) int {
	n := 0
	for _, in := range chars {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			continue
		}
		traits := clampTraits(in.Traits)
		cur, exists := m.Characters[name]
		if !exists {
			first := cloneInt(in.FirstAppearance)
			if first == nil && fallbackIndex >= 0 {
				first = IntPtr(fallbackIndex)
			}
			if traits == nil {
				traits = []string{}
			}
			m.Characters[name] = CharacterEntry{
				Name:                 name,
				Role:                 in.Role,
				Age:                  in.Age,
				Occupation:           in.Occupation,
				Description:          in.Description,
				Traits:               traits,
				RelationshipWithUser: in.RelationshipWithUser,
				FirstAppearance:      first,
				CreatedAt:            now,
				LastUpdate:           now,
			}
			n++
			continue
		}

		changed := false
		update := func(dst *string, v string) {
			if v != "" && v != *dst {
				*dst = v
				changed = true
			}
		}
		update(&cur.Role, in.Role)
		update(&cur.Age, in.Age)
		update(&cur.Occupation, in.Occupation)
		update(&cur.Description, in.Description)
		update(&cur.RelationshipWithUser, in.RelationshipWithUser)
		if len(traits) > 0 && !slices.Equal(traits, cur.Traits) {
			cur.Traits = traits
			changed = true
		}
		if cur.FirstAppearance == nil && in.FirstAppearance != nil {
			cur.FirstAppearance = cloneInt(in.FirstAppearance)
			changed = true
		}
		if changed {
			cur.LastUpdate = now
			m.Characters[name] = cur
			n++
		}
	}
	return n
}

func clampTraits(in []string) []string {
	var out []string
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == MaxTraits {
			break
		}
	}
	return out
}

// MergeEvents folds extracted events into the catalog, matching existing
// events by case-insensitive title. It returns the number added or updated.
func (s *Store) MergeEvents(ctx context.Context, events []EventEntry, fallbackIndex int) int {
	n := 0
	s.mutate(ctx, "merge events", func(m *ChatMemory, _ *host.ChatContext) bool {
		n = mergeEvents(m, events, fallbackIndex, s.stamp())
		return n > 0
	})
	return n
}

func mergeEvents(m *ChatMemory, events []EventEntry, fallbackIndex int, now Millis) int {
	n := 0
	for _, in := range events {
		title := strings.TrimSpace(in.Title)
		if title == "" {
			continue
		}
		i := slices.IndexFunc(m.Events, func(e EventEntry) bool { return strings.EqualFold(e.Title, title) })
		if i < 0 {
			idx := cloneInt(in.MessageIndex)
			if idx == nil && fallbackIndex >= 0 {
				idx = IntPtr(fallbackIndex)
			}
			participants := slices.Clone(in.Participants)
			if participants == nil {
				participants = []string{}
			}
			m.Events = append(m.Events, EventEntry{
				ID:           uuid.NewString(),
				Title:        title,
				Description:  in.Description,
				MessageIndex: idx,
				Participants: participants,
				Importance:   ParseImportance(string(in.Importance)),
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			n++
			continue
		}
		cur := m.Events[i]
		changed := false
		if in.Description != "" && in.Description != cur.Description {
			cur.Description = in.Description
			changed = true
		}
		if len(in.Participants) > 0 && !slices.Equal(in.Participants, cur.Participants) {
			cur.Participants = slices.Clone(in.Participants)
			changed = true
		}
		if in.Importance != "" {
			if imp := ParseImportance(string(in.Importance)); imp != cur.Importance {
				cur.Importance = imp
				changed = true
			}
		}
		if cur.MessageIndex == nil && in.MessageIndex != nil {
			cur.MessageIndex = cloneInt(in.MessageIndex)
			changed = true
		}
		if changed {
			cur.UpdatedAt = now
			m.Events[i] = cur
			n++
		}
	}
	return n
}

// MergeItems folds extracted items into the catalog, matching existing items
// by case-insensitive name. It returns the number added or updated.
func (s *Store) MergeItems(ctx context.Context, items []ItemEntry, fallbackIndex int) int {
	n := 0
	s.mutate(ctx, "merge items", func(m *ChatMemory, _ *host.ChatContext) bool {
		n = mergeItems(m, items, fallbackIndex, s.stamp())
		return n > 0
	})
	return n
}

func mergeItems(m *ChatMemory, items []ItemEntry, fallbackIndex int, now Millis) int {
	n := 0
	for _, in := range items {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			continue
		}
		i := slices.IndexFunc(m.Items, func(it ItemEntry) bool { return strings.EqualFold(it.Name, name) })
		if i < 0 {
			idx := cloneInt(in.MessageIndex)
			if idx == nil && fallbackIndex >= 0 {
				idx = IntPtr(fallbackIndex)
			}
			m.Items = append(m.Items, ItemEntry{
				ID:           uuid.NewString(),
				Name:         name,
				Description:  in.Description,
				Owner:        in.Owner,
				Origin:       in.Origin,
				Status:       in.Status,
				MessageIndex: idx,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			n++
			continue
		}
		cur := m.Items[i]
		changed := false
		update := func(dst *string, v string) {
			if v != "" && v != *dst {
				*dst = v
				changed = true
			}
		}
		update(&cur.Description, in.Description)
		update(&cur.Owner, in.Owner)
		update(&cur.Origin, in.Origin)
		update(&cur.Status, in.Status)
		if cur.MessageIndex == nil && in.MessageIndex != nil {
			cur.MessageIndex = cloneInt(in.MessageIndex)
			changed = true
		}
		if changed {
			cur.UpdatedAt = now
			m.Items[i] = cur
			n++
		}
	}
	return n
}

// ── relevant views ───────────────────────────────────────────────────────────

func withinChat(p *int, last int) bool { return p == nil || *p <= last }

// RelevantCharacters returns characters whose first appearance is unknown or
// within the current chat, ordered by first appearance then name.
func (s *Store) RelevantCharacters(ctx context.Context) []CharacterEntry {
	var out []CharacterEntry
	s.view(ctx, "relevant characters", func(m *ChatMemory, cc *host.ChatContext) {
		last := cc.LastIndex()
		for _, c := range m.Characters {
			if withinChat(c.FirstAppearance, last) {
				c.Traits = slices.Clone(c.Traits)
				out = append(out, c)
			}
		}
	})
	slices.SortFunc(out, func(a, b CharacterEntry) int {
		if c := cmp.Compare(appearance(a.FirstAppearance), appearance(b.FirstAppearance)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// appearance orders unknown first appearances after known ones.
func appearance(p *int) int {
	if p == nil {
		return int(^uint(0) >> 1)
	}
	return *p
}

// RelevantEvents returns events whose message index is unknown or within the
// current chat, in catalog order.
func (s *Store) RelevantEvents(ctx context.Context) []EventEntry {
	var out []EventEntry
	s.view(ctx, "relevant events", func(m *ChatMemory, cc *host.ChatContext) {
		last := cc.LastIndex()
		for _, e := range m.Events {
			if withinChat(e.MessageIndex, last) {
				e.Participants = slices.Clone(e.Participants)
				out = append(out, e)
			}
		}
	})
	return out
}

// RelevantItems returns items whose message index is unknown or within the
// current chat, in catalog order.
func (s *Store) RelevantItems(ctx context.Context) []ItemEntry {
	var out []ItemEntry
	s.view(ctx, "relevant items", func(m *ChatMemory, cc *host.ChatContext) {
		last := cc.LastIndex()
		for _, it := range m.Items {
			if withinChat(it.MessageIndex, last) {
				out = append(out, it)
			}
		}
	})
	return out
}

// LegacySummaries returns the legacy entries in ascending order.
func (s *Store) LegacySummaries(ctx context.Context) []LegacyEntry {
	var out []LegacyEntry
	s.view(ctx, "legacy summaries", func(m *ChatMemory, _ *host.ChatContext) {
		out = slices.Clone(m.LegacySummaries)
	})
	slices.SortStableFunc(out, func(a, b LegacyEntry) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

// ── removal ──────────────────────────────────────────────────────────────────

// DeleteCharacter removes a character by name.
func (s *Store) DeleteCharacter(ctx context.Context, name string) bool {
	return s.mutate(ctx, "delete character", func(m *ChatMemory, _ *host.ChatContext) bool {
		if _, ok := m.Characters[name]; !ok {
			return false
		}
		delete(m.Characters, name)
		return true
	})
}

// DeleteEvent removes an event by id.
func (s *Store) DeleteEvent(ctx context.Context, id string) bool {
	return s.mutate(ctx, "delete event", func(m *ChatMemory, _ *host.ChatContext) bool {
		before := len(m.Events)
		m.Events = slices.DeleteFunc(m.Events, func(e EventEntry) bool { return e.ID == id })
		return len(m.Events) != before
	})
}

// DeleteItem removes an item by id.
func (s *Store) DeleteItem(ctx context.Context, id string) bool {
	return s.mutate(ctx, "delete item", func(m *ChatMemory, _ *host.ChatContext) bool {
		before := len(m.Items)
		m.Items = slices.DeleteFunc(m.Items, func(it ItemEntry) bool { return it.ID == id })
		return len(m.Items) != before
	})
}

// DeleteLegacy removes the legacy entry with the given order.
func (s *Store) DeleteLegacy(ctx context.Context, order int) bool {
	return s.mutate(ctx, "delete legacy", func(m *ChatMemory, _ *host.ChatContext) bool {
		before := len(m.LegacySummaries)
		m.LegacySummaries = slices.DeleteFunc(m.LegacySummaries, func(l LegacyEntry) bool { return l.Order == order })
		return len(m.LegacySummaries) != before
	})
}
