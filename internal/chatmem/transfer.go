package chatmem

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
)

// ExportFormat tags export documents.
const ExportFormat = "scenario-summarizer"

// ImportMode selects how [Store.Import] combines foreign data with the open
// chat's memory.
type ImportMode string

const (
	// ImportMerge adds foreign summaries at indices that are free and folds
	// foreign catalogs into the current ones.
	ImportMerge ImportMode = "merge"

	// ImportLegacy turns every foreign summary into a legacy entry appended
	// after the current highest order: the foreign legacy entries first, then
	// its current summaries.
	ImportLegacy ImportMode = "legacy"

	// ImportReplace discards the current memory.
	ImportReplace ImportMode = "replace"
)

// IsValid reports whether m is a known mode.
func (m ImportMode) IsValid() bool {
	return m == ImportMerge || m == ImportLegacy || m == ImportReplace
}

// ImportReport counts what an import added.
type ImportReport struct {
	Mode       ImportMode
	Summaries  int
	Legacy     int
	Characters int
	Events     int
	Items      int

	// Skipped counts foreign summaries not applied because their span was
	// already taken.
	Skipped int

	Migration MigrationReport
}

type exportDoc struct {
	Format     string          `json:"format"`
	ChatID     string          `json:"chatId"`
	ExportedAt Millis          `json:"exportedAt"`
	Data       json.RawMessage `json:"data"`
}

// Export returns the memory wrapped in an export envelope.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	var (
		data   []byte
		chatID string
		err    error
	)
	ok := s.view(ctx, "export", func(m *ChatMemory, cc *host.ChatContext) {
		chatID = cc.ChatID
		snap := m.Clone()
		snap.Version = CurrentVersion
		data, err = json.Marshal(snap)
	})
	if !ok {
		return nil, fmt.Errorf("chatmem: export: %w", host.ErrNoChat)
	}
	if err != nil {
		return nil, fmt.Errorf("chatmem: export: %w", err)
	}
	out, err := json.MarshalIndent(exportDoc{
		Format:     ExportFormat,
		ChatID:     chatID,
		ExportedAt: s.stamp(),
		Data:       data,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("chatmem: export: %w", err)
	}
	return out, nil
}

// decodeImport accepts an export envelope or a bare memory document.
func decodeImport(data []byte) (ChatMemory, string, MigrationReport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ChatMemory{}, "", MigrationReport{}, ErrInvalidImport
	}
	var doc exportDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return ChatMemory{}, "", MigrationReport{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	payload := trimmed
	source := "import"
	if doc.Format == ExportFormat && len(doc.Data) > 0 {
		payload = doc.Data
		if doc.ChatID != "" {
			source = doc.ChatID
		}
	}
	mem, rep, err := Decode(payload)
	if err != nil {
		return ChatMemory{}, "", rep, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	return mem, source, rep, nil
}

// Import applies foreign data in the given mode.
func (s *Store) Import(ctx context.Context, data []byte, mode ImportMode) (ImportReport, error) {
	rep := ImportReport{Mode: mode}
	if !mode.IsValid() {
		return rep, fmt.Errorf("chatmem: import: unknown mode %q", mode)
	}
	foreign, source, mig, err := decodeImport(data)
	rep.Migration = mig
	if err != nil {
		return rep, fmt.Errorf("chatmem: import: %w", err)
	}

	ok := s.view(ctx, "import", func(*ChatMemory, *host.ChatContext) {})
	if !ok {
		return rep, fmt.Errorf("chatmem: import: %w", host.ErrNoChat)
	}
	s.mutate(ctx, "import", func(m *ChatMemory, _ *host.ChatContext) bool {
		now := s.stamp()
		switch mode {
		case ImportReplace:
			*m = foreign.Clone()
			rep.Summaries = len(m.Summaries)
			rep.Legacy = len(m.LegacySummaries)
			rep.Characters = len(m.Characters)
			rep.Events = len(m.Events)
			rep.Items = len(m.Items)
		case ImportMerge:
			importMerge(m, foreign, &rep, now)
		case ImportLegacy:
			importLegacy(m, foreign, source, &rep, now)
		}
		return true
	})
	return rep, nil
}

func importMerge(m *ChatMemory, foreign ChatMemory, rep *ImportReport, now Millis) {
	for _, i := range foreign.SortedIndices() {
		e := foreign.Summaries[i]
		k := e.Kind()
		if k.Tag == KindGroupMember || k.Tag == KindEmpty {
			continue
		}
		span := e.Span(i)
		if spanTaken(m, span) {
			rep.Skipped++
			continue
		}
		if k.Tag == KindGroupHead {
			setGroup(m, span, e.Content, e.Timestamp)
			if e.Pinned || e.Invalidated {
				head := m.Summaries[span.Start]
				head.Pinned, head.Invalidated, head.InvalidReason = e.Pinned, e.Invalidated, e.InvalidReason
				m.Summaries[span.Start] = head
			}
		} else {
			e.MessageIndex = i
			m.Summaries[i] = e.reparse()
		}
		rep.Summaries++
	}

	next := nextOrder(m)
	for _, l := range sortedLegacy(foreign.LegacySummaries) {
		l.Order = next
		next++
		m.LegacySummaries = append(m.LegacySummaries, l)
		rep.Legacy++
	}

	rep.Characters = mergeCharacters(m, mapValues(foreign.Characters), -1, now)
	rep.Events = mergeEvents(m, foreign.Events, -1, now)
	rep.Items = mergeItems(m, foreign.Items, -1, now)
}

func importLegacy(m *ChatMemory, foreign ChatMemory, source string, rep *ImportReport, now Millis) {
	next := nextOrder(m)
	for _, l := range sortedLegacy(foreign.LegacySummaries) {
		if ParseKind(l.Content).Failure == FailureParseFailed {
			continue
		}
		l.Order = next
		next++
		if l.ImportDate == 0 {
			l.ImportDate = now
		}
		m.LegacySummaries = append(m.LegacySummaries, l)
		rep.Legacy++
	}
	for _, i := range foreign.SortedIndices() {
		e := foreign.Summaries[i]
		k := e.Kind()
		// Placeholders carry no story and a legacy entry cannot be
		// resummarized.
		if k.Tag == KindGroupMember || k.Tag == KindEmpty || k.Failure == FailureParseFailed ||
			strings.TrimSpace(e.Content) == "" {
			continue
		}
		m.LegacySummaries = append(m.LegacySummaries, LegacyEntry{
			Order:         next,
			Content:       e.Content,
			Timestamp:     e.Timestamp,
			ImportedFrom:  source,
			OriginalIndex: IntPtr(i),
			ImportDate:    now,
		})
		next++
		rep.Legacy++
	}

	// Foreign message indices mean nothing in this chat.
	chars := mapValues(foreign.Characters)
	for i := range chars {
		chars[i].FirstAppearance = nil
	}
	events := make([]EventEntry, len(foreign.Events))
	for i, e := range foreign.Events {
		e.MessageIndex = nil
		events[i] = e
	}
	items := make([]ItemEntry, len(foreign.Items))
	for i, it := range foreign.Items {
		it.MessageIndex = nil
		items[i] = it
	}
	rep.Characters = mergeCharacters(m, chars, -1, now)
	rep.Events = mergeEvents(m, events, -1, now)
	rep.Items = mergeItems(m, items, -1, now)
}

func spanTaken(m *ChatMemory, r Range) bool {
	for i, e := range m.Summaries {
		if r.Contains(i) || e.Span(i).Overlaps(r) {
			return true
		}
	}
	return false
}

func nextOrder(m *ChatMemory) int {
	next := 0
	for _, l := range m.LegacySummaries {
		if l.Order >= next {
			next = l.Order + 1
		}
	}
	return next
}

func sortedLegacy(in []LegacyEntry) []LegacyEntry {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b LegacyEntry) int { return cmp.Compare(a.Order, b.Order) })
	return out
}

func mapValues(in map[string]CharacterEntry) []CharacterEntry {
	out := make([]CharacterEntry, 0, len(in))
	for _, name := range sortedKeys(in) {
		out = append(out, in[name])
	}
	return out
}
