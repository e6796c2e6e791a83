package chatmem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MigrationReport describes what [Migrate] did to the stored data.
type MigrationReport struct {
	// FromVersion is the version found on load; 0 when missing.
	FromVersion int

	// Changed is true when the result differs from what was stored and
	// should be written back.
	Changed bool

	// Converted counts entries rewritten from an older shape.
	Converted int

	// Dropped lists the records that could not be recovered.
	Dropped []string
}

func (r *MigrationReport) drop(format string, args ...any) {
	r.Dropped = append(r.Dropped, fmt.Sprintf(format, args...))
	r.Changed = true
}

// Decode parses a stored memory document and migrates it. Empty input yields
// a fresh memory. Only a document that is not a JSON object is an error.
func Decode(data []byte) (ChatMemory, MigrationReport, error) {
	if len(strings.TrimSpace(string(data))) == 0 || string(data) == "null" {
		m, rep := Migrate(nil)
		return m, rep, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewChatMemory(), MigrationReport{}, fmt.Errorf("chatmem: decode: %w", err)
	}
	m, rep := Migrate(raw)
	return m, rep, nil
}

// Migrate converts a stored document of any known version into the current
// shape. Running it on its own output is a no-op.
//
// Older shapes handled:
//   - an "entries" array of {startIndex, endIndex, content} ranges whose
//     content holds "#N" sections, split into per-index summaries;
//   - summaries stored as bare strings, wrapped into entries;
//   - characters stored as an array instead of a name-keyed object;
//   - localized group sentinels, rewritten to the canonical sentinel.
//
// Records that fail schema validation are dropped and listed in the report.
func Migrate(raw map[string]json.RawMessage) (ChatMemory, MigrationReport) {
	m := NewChatMemory()
	var rep MigrationReport
	if raw == nil {
		rep.Changed = true
		return m, rep
	}
	sch, err := loadSchemas()
	if err != nil {
		slog.Error("chatmem: schema unavailable, validating by decode only", "err", err)
	}

	if v, ok := raw["version"]; ok {
		_ = json.Unmarshal(v, &rep.FromVersion)
	}
	if rep.FromVersion != CurrentVersion {
		rep.Changed = true
	}
	_ = json.Unmarshal(raw["lastUpdate"], &m.LastUpdate)

	migrateSummaries(&m, raw["summaries"], sch, &rep)
	migrateEntries(&m, raw["entries"], &rep)
	migrateLegacy(&m, raw["legacySummaries"], sch, &rep)
	migrateCharacters(&m, raw["characters"], sch, &rep)
	migrateEvents(&m, raw["events"], sch, &rep)
	migrateItems(&m, raw["items"], sch, &rep)

	var storedLast int
	hasLast := json.Unmarshal(raw["lastSummarizedIndex"], &storedLast) == nil
	m.recomputeLast()
	if !hasLast || storedLast != m.LastSummarizedIndex {
		rep.Changed = true
	}
	return m, rep
}

func migrateSummaries(m *ChatMemory, data json.RawMessage, sch recordSchemas, rep *MigrationReport) {
	if len(data) == 0 || string(data) == "null" {
		rep.Changed = true
		return
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		rep.drop("summaries: not an object: %v", err)
		return
	}
	for key, v := range items {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 {
			rep.drop("summaries[%q]: key is not a message index", key)
			continue
		}
		trimmed := strings.TrimSpace(string(v))
		if strings.HasPrefix(trimmed, `"`) {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				rep.drop("summaries[%d]: %v", idx, err)
				continue
			}
			m.Summaries[idx] = SummaryEntry{
				MessageIndex: idx,
				Timestamp:    m.LastUpdate,
				MigratedFrom: "string",
			}.withContent(canonicalSentinel(s))
			rep.Converted++
			rep.Changed = true
			continue
		}
		if err := validateRecord(sch.summary, v); err != nil {
			rep.drop("summaries[%d]: %v", idx, err)
			continue
		}
		var e SummaryEntry
		if err := json.Unmarshal(v, &e); err != nil {
			rep.drop("summaries[%d]: %v", idx, err)
			continue
		}
		if e.MessageIndex != idx {
			e.MessageIndex = idx
			rep.Changed = true
		}
		if canon := canonicalSentinel(e.Content); canon != e.Content {
			e.Content = canon
			rep.Converted++
			rep.Changed = true
		}
		m.Summaries[idx] = e.reparse()
	}
}

// v1 layout: {"entries": [{"startIndex": 0, "endIndex": 4, "content": "#0\n…\n#1\n…"}]}.
type v1Entry struct {
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
	Content    string `json:"content"`
	Timestamp  Millis `json:"timestamp"`
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^\s*#(\d+)\s*$`)

func migrateEntries(m *ChatMemory, data json.RawMessage, rep *MigrationReport) {
	if len(data) == 0 || string(data) == "null" {
		return
	}
	rep.Changed = true
	var entries []v1Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		rep.drop("entries: %v", err)
		return
	}
	for _, e := range entries {
		for idx, content := range splitSections(e.Content, e.StartIndex) {
			if _, exists := m.Summaries[idx]; exists {
				continue
			}
			m.Summaries[idx] = SummaryEntry{
				MessageIndex: idx,
				Timestamp:    e.Timestamp,
				MigratedFrom: "entries",
			}.withContent(content)
			rep.Converted++
		}
	}
}

// splitSections splits "#N\ncontent" sections. Text without any header is
// assigned to fallback.
func splitSections(text string, fallback int) map[int]string {
	out := map[int]string{}
	locs := sectionHeaderRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			out[fallback] = fmt.Sprintf("#%d\n%s", fallback, t)
		}
		return out
	}
	for i, loc := range locs {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}
		out[n] = fmt.Sprintf("#%d\n%s", n, body)
	}
	return out
}

func migrateLegacy(m *ChatMemory, data json.RawMessage, sch recordSchemas, rep *MigrationReport) {
	if len(data) == 0 || string(data) == "null" {
		rep.Changed = true
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		rep.drop("legacySummaries: %v", err)
		return
	}
	seen := map[int]bool{}
	var needOrder []int
	for i, v := range items {
		if err := validateRecord(sch.legacy, v); err != nil {
			rep.drop("legacySummaries[%d]: %v", i, err)
			continue
		}
		var l LegacyEntry
		if err := json.Unmarshal(v, &l); err != nil {
			rep.drop("legacySummaries[%d]: %v", i, err)
			continue
		}
		var probe struct {
			Order *int `json:"order"`
		}
		_ = json.Unmarshal(v, &probe)
		if probe.Order == nil || seen[l.Order] {
			needOrder = append(needOrder, len(m.LegacySummaries))
		} else {
			seen[l.Order] = true
		}
		m.LegacySummaries = append(m.LegacySummaries, l)
	}
	if len(needOrder) > 0 {
		rep.Changed = true
		next := 0
		for o := range seen {
			if o >= next {
				next = o + 1
			}
		}
		for _, i := range needOrder {
			m.LegacySummaries[i].Order = next
			next++
		}
	}
	if !sort.SliceIsSorted(m.LegacySummaries, func(a, b int) bool {
		return m.LegacySummaries[a].Order < m.LegacySummaries[b].Order
	}) {
		rep.Changed = true
		sort.SliceStable(m.LegacySummaries, func(a, b int) bool {
			return m.LegacySummaries[a].Order < m.LegacySummaries[b].Order
		})
	}
}

func migrateCharacters(m *ChatMemory, data json.RawMessage, sch recordSchemas, rep *MigrationReport) {
	if len(data) == 0 || string(data) == "null" {
		rep.Changed = true
		return
	}
	var records []json.RawMessage
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		rep.Changed = true
		if err := json.Unmarshal(data, &records); err != nil {
			rep.drop("characters: %v", err)
			return
		}
	} else {
		var byName map[string]json.RawMessage
		if err := json.Unmarshal(data, &byName); err != nil {
			rep.drop("characters: %v", err)
			return
		}
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			records = append(records, withDefaultName(byName[n], n))
		}
	}
	for i, v := range records {
		v = stringifyAge(v)
		if err := validateRecord(sch.character, v); err != nil {
			rep.drop("characters[%d]: %v", i, err)
			continue
		}
		var c CharacterEntry
		if err := json.Unmarshal(v, &c); err != nil {
			rep.drop("characters[%d]: %v", i, err)
			continue
		}
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			rep.drop("characters[%d]: missing name", i)
			continue
		}
		if len(c.Traits) > MaxTraits {
			c.Traits = c.Traits[:MaxTraits]
			rep.Changed = true
		}
		if c.Traits == nil {
			c.Traits = []string{}
		}
		m.Characters[c.Name] = c
	}
}

// withDefaultName fills "name" from the map key when the record lacks one.
func withDefaultName(v json.RawMessage, name string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err != nil {
		return v
	}
	if n, ok := obj["name"]; ok && string(n) != `""` && string(n) != "null" {
		return v
	}
	obj["name"], _ = json.Marshal(name)
	out, err := json.Marshal(obj)
	if err != nil {
		return v
	}
	return out
}

// stringifyAge rewrites a numeric "age" as a string.
func stringifyAge(v json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err != nil {
		return v
	}
	age, ok := obj["age"]
	if !ok || len(age) == 0 || age[0] == '"' || string(age) == "null" {
		return v
	}
	obj["age"], _ = json.Marshal(string(age))
	out, err := json.Marshal(obj)
	if err != nil {
		return v
	}
	return out
}

func migrateEvents(m *ChatMemory, data json.RawMessage, sch recordSchemas, rep *MigrationReport) {
	if len(data) == 0 || string(data) == "null" {
		rep.Changed = true
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		rep.drop("events: %v", err)
		return
	}
	for i, v := range items {
		if err := validateRecord(sch.event, v); err != nil {
			rep.drop("events[%d]: %v", i, err)
			continue
		}
		var e EventEntry
		if err := json.Unmarshal(v, &e); err != nil {
			rep.drop("events[%d]: %v", i, err)
			continue
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
			rep.Changed = true
		}
		if imp := ParseImportance(string(e.Importance)); imp != e.Importance {
			e.Importance = imp
			rep.Changed = true
		}
		if e.Participants == nil {
			e.Participants = []string{}
		}
		m.Events = append(m.Events, e)
	}
}

func migrateItems(m *ChatMemory, data json.RawMessage, sch recordSchemas, rep *MigrationReport) {
	if len(data) == 0 || string(data) == "null" {
		rep.Changed = true
		return
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		rep.drop("items: %v", err)
		return
	}
	for i, v := range items {
		if err := validateRecord(sch.item, v); err != nil {
			rep.drop("items[%d]: %v", i, err)
			continue
		}
		var it ItemEntry
		if err := json.Unmarshal(v, &it); err != nil {
			rep.drop("items[%d]: %v", i, err)
			continue
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
			rep.Changed = true
		}
		m.Items = append(m.Items, it)
	}
}
