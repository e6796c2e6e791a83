package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
)

// Entity block tags.
const (
	tagCharacters     = "CHARACTERS"
	tagCharactersJSON = "CHARACTERS_JSON"
	tagEvents         = "EVENTS"
	tagEventsJSON     = "EVENTS_JSON"
	tagItems          = "ITEMS"
	tagItemsJSON      = "ITEMS_JSON"
)

// Entities are the catalog rows extracted from one reply. Index fields are
// nil when the model left them out; the store fills them in.
type Entities struct {
	Characters []chatmem.CharacterEntry
	Events     []chatmem.EventEntry
	Items      []chatmem.ItemEntry

	// Unclosed is set when an entity block had an opening tag but no
	// closing tag. Its rows are still parsed.
	Unclosed bool
}

// Empty reports whether nothing was extracted.
func (e Entities) Empty() bool {
	return len(e.Characters) == 0 && len(e.Events) == 0 && len(e.Items) == 0
}

type blockRe struct {
	closed   *regexp.Regexp
	unclosed *regexp.Regexp
}

func newBlockRe(tag string) blockRe {
	q := regexp.QuoteMeta(tag)
	return blockRe{
		closed:   regexp.MustCompile(`(?s)\[` + q + `\](.*?)\[/` + q + `\]`),
		unclosed: regexp.MustCompile(`(?s)\[` + q + `\](.*)$`),
	}
}

var blockRes = map[string]blockRe{
	tagCharacters:     newBlockRe(tagCharacters),
	tagCharactersJSON: newBlockRe(tagCharactersJSON),
	tagEvents:         newBlockRe(tagEvents),
	tagEventsJSON:     newBlockRe(tagEventsJSON),
	tagItems:          newBlockRe(tagItems),
	tagItemsJSON:      newBlockRe(tagItemsJSON),
}

// cut removes every block tagged tag from text and returns the bodies. An
// opening tag without a closing one swallows the rest of the text.
func cut(text, tag string) (rest string, bodies []string, unclosed bool) {
	re := blockRes[tag]
	rest = re.closed.ReplaceAllStringFunc(text, func(m string) string {
		bodies = append(bodies, re.closed.FindStringSubmatch(m)[1])
		return ""
	})
	if m := re.unclosed.FindStringSubmatchIndex(rest); m != nil {
		bodies = append(bodies, rest[m[2]:m[3]])
		rest = rest[:m[0]]
		unclosed = true
	}
	rest = strings.ReplaceAll(rest, "[/"+tag+"]", "")
	return rest, bodies, unclosed
}

// ExtractEntities removes the entity blocks from text and parses their rows.
// Both the pipe-delimited form and the older _JSON form are accepted. Rows
// with no usable name or title are dropped.
func ExtractEntities(text string) (string, Entities) {
	var ents Entities
	rest := text

	take := func(tag string, each func(body string)) {
		var bodies []string
		var open bool
		rest, bodies, open = cut(rest, tag)
		ents.Unclosed = ents.Unclosed || open
		for _, b := range bodies {
			each(b)
		}
	}

	// JSON tags first: "[CHARACTERS_JSON]" does not match the pipe pattern,
	// but an unclosed pipe block would swallow a later JSON block.
	take(tagCharactersJSON, func(b string) { ents.Characters = append(ents.Characters, charactersJSON(b)...) })
	take(tagEventsJSON, func(b string) { ents.Events = append(ents.Events, eventsJSON(b)...) })
	take(tagItemsJSON, func(b string) { ents.Items = append(ents.Items, itemsJSON(b)...) })
	take(tagCharacters, func(b string) { ents.Characters = append(ents.Characters, characterRows(b)...) })
	take(tagEvents, func(b string) { ents.Events = append(ents.Events, eventRows(b)...) })
	take(tagItems, func(b string) { ents.Items = append(ents.Items, itemRows(b)...) })

	return strings.TrimSpace(rest), ents
}

// ── pipe rows ────────────────────────────────────────────────────────────────

// rows splits a pipe block into trimmed field slices. Lines without a pipe,
// markdown table rules and rows whose fields are all empty are skipped.
func rows(body string) [][]string {
	var out [][]string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "*• ")
		if !strings.Contains(line, "|") {
			continue
		}
		line = strings.Trim(line, "|")
		parts := strings.Split(line, "|")
		fields := make([]string, len(parts))
		empty := true
		for i, p := range parts {
			fields[i] = field(p)
			if fields[i] != "" && strings.Trim(fields[i], "-: ") != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		out = append(out, fields)
	}
	return out
}

// field trims a cell and coerces "N/A" style placeholders to empty.
func field(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "n/a", "na", "none", "null", "-", "unknown", "없음", "なし":
		return ""
	}
	return s
}

func at(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

var indexRe = regexp.MustCompile(`^#?\s*(\d+)`)

// parseIndex reads "12" or "#12". Anything else is nil.
func parseIndex(s string) *int {
	m := indexRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// splitList splits a comma list, accepting CJK commas.
func splitList(s string) []string {
	s = strings.NewReplacer("，", ",", "、", ",").Replace(s)
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = field(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isColumnHeader reports whether a row echoes the format line itself.
func isColumnHeader(first string) bool {
	switch strings.ToLower(first) {
	case "name", "title", "이름", "제목", "名前":
		return true
	}
	return false
}

func characterRows(body string) []chatmem.CharacterEntry {
	var out []chatmem.CharacterEntry
	for _, f := range rows(body) {
		name := at(f, 0)
		if name == "" || isColumnHeader(name) {
			continue
		}
		out = append(out, chatmem.CharacterEntry{
			Name:                 name,
			Role:                 at(f, 1),
			Age:                  at(f, 2),
			Occupation:           at(f, 3),
			Description:          at(f, 4),
			Traits:               splitList(at(f, 5)),
			RelationshipWithUser: at(f, 6),
			FirstAppearance:      parseIndex(at(f, 7)),
		})
	}
	return out
}

func eventRows(body string) []chatmem.EventEntry {
	var out []chatmem.EventEntry
	for _, f := range rows(body) {
		title := at(f, 0)
		if title == "" || isColumnHeader(title) {
			continue
		}
		out = append(out, chatmem.EventEntry{
			Title:        title,
			Description:  at(f, 1),
			Participants: splitList(at(f, 2)),
			Importance:   importance(at(f, 3)),
			MessageIndex: parseIndex(at(f, 4)),
		})
	}
	return out
}

func itemRows(body string) []chatmem.ItemEntry {
	var out []chatmem.ItemEntry
	for _, f := range rows(body) {
		name := at(f, 0)
		if name == "" || isColumnHeader(name) {
			continue
		}
		out = append(out, chatmem.ItemEntry{
			Name:         name,
			Description:  at(f, 1),
			Owner:        at(f, 2),
			Origin:       at(f, 3),
			Status:       at(f, 4),
			MessageIndex: parseIndex(at(f, 5)),
		})
	}
	return out
}

// importance maps a cell onto an importance grade. Empty stays empty so a
// merge does not overwrite a known grade.
func importance(s string) chatmem.Importance {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return ""
	case "high", "높음", "상", "高":
		return chatmem.ImportanceHigh
	case "low", "낮음", "하", "低":
		return chatmem.ImportanceLow
	}
	return chatmem.ImportanceMedium
}

// ── JSON blocks ──────────────────────────────────────────────────────────────

// flexString accepts a JSON string, number or bool.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(field(s))
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if v == nil {
		*f = ""
		return nil
	}
	*f = flexString(fmt.Sprint(v))
	return nil
}

// flexList accepts a JSON array of strings or a comma separated string.
type flexList []string

func (f *flexList) UnmarshalJSON(b []byte) error {
	var list []flexString
	if err := json.Unmarshal(b, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, s := range list {
			if s != "" {
				out = append(out, string(s))
			}
		}
		*f = out
		return nil
	}
	var s flexString
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*f = splitList(string(s))
	return nil
}

// flexIndex accepts a number, a "#12" string or null.
type flexIndex struct{ p *int }

func (f *flexIndex) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	f.p = parseIndex(string(s))
	return nil
}

// decodeArray decodes a JSON array from body, tolerating code fences and a
// single object. Malformed JSON yields nothing.
func decodeArray[T any](body string) []T {
	s := stripFences(body)
	if s == "" {
		return nil
	}
	var list []T
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list
	}
	var one T
	if err := json.Unmarshal([]byte(s), &one); err == nil {
		return []T{one}
	}
	return nil
}

// stripFences removes optional markdown code fences around a JSON body.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

type characterJSON struct {
	Name                 flexString `json:"name"`
	Role                 flexString `json:"role"`
	Age                  flexString `json:"age"`
	Occupation           flexString `json:"occupation"`
	Description          flexString `json:"description"`
	Traits               flexList   `json:"traits"`
	RelationshipWithUser flexString `json:"relationshipWithUser"`
	FirstAppearance      flexIndex  `json:"firstAppearance"`
}

func charactersJSON(body string) []chatmem.CharacterEntry {
	var out []chatmem.CharacterEntry
	for _, c := range decodeArray[characterJSON](body) {
		if c.Name == "" {
			continue
		}
		out = append(out, chatmem.CharacterEntry{
			Name:                 string(c.Name),
			Role:                 string(c.Role),
			Age:                  string(c.Age),
			Occupation:           string(c.Occupation),
			Description:          string(c.Description),
			Traits:               []string(c.Traits),
			RelationshipWithUser: string(c.RelationshipWithUser),
			FirstAppearance:      c.FirstAppearance.p,
		})
	}
	return out
}

type eventJSON struct {
	Title        flexString `json:"title"`
	Description  flexString `json:"description"`
	Participants flexList   `json:"participants"`
	Importance   flexString `json:"importance"`
	MessageIndex flexIndex  `json:"messageIndex"`
}

func eventsJSON(body string) []chatmem.EventEntry {
	var out []chatmem.EventEntry
	for _, e := range decodeArray[eventJSON](body) {
		if e.Title == "" {
			continue
		}
		out = append(out, chatmem.EventEntry{
			Title:        string(e.Title),
			Description:  string(e.Description),
			Participants: []string(e.Participants),
			Importance:   importance(string(e.Importance)),
			MessageIndex: e.MessageIndex.p,
		})
	}
	return out
}

type itemJSON struct {
	Name         flexString `json:"name"`
	Description  flexString `json:"description"`
	Owner        flexString `json:"owner"`
	Origin       flexString `json:"origin"`
	Status       flexString `json:"status"`
	MessageIndex flexIndex  `json:"messageIndex"`
}

func itemsJSON(body string) []chatmem.ItemEntry {
	var out []chatmem.ItemEntry
	for _, it := range decodeArray[itemJSON](body) {
		if it.Name == "" {
			continue
		}
		out = append(out, chatmem.ItemEntry{
			Name:         string(it.Name),
			Description:  string(it.Description),
			Owner:        string(it.Owner),
			Origin:       string(it.Origin),
			Status:       string(it.Status),
			MessageIndex: it.MessageIndex.p,
		})
	}
	return out
}
