// Package inject composes the memory block the host prepends to its prompt
// and hands it to the host.
//
// [Composer] is pure: it turns store views into a single budgeted text and
// reports which summaries did not fit. [Injector] reads the store and the
// settings, runs the composer and pushes the result through
// [host.Host.SetInjection].
package inject

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/tokenizer"
)

const (
	// Header opens every memory block.
	Header = "[Scenario Summary]"

	// EntryOverhead is added to the token count of every admitted entry and
	// section to cover separators and range headers.
	EntryOverhead = 20
)

// Section titles of the memory block.
const (
	titlePrevious   = "--- PREVIOUS STORY ---"
	titleCurrent    = "--- CURRENT STORY ---"
	titleCharacters = "--- CHARACTERS ---"
	titleEvents     = "--- EVENTS ---"
	titleItems      = "--- ITEMS ---"
)

// Input is everything one composition reads.
type Input struct {
	// Summaries are the relevant current summaries keyed by message index.
	Summaries map[int]chatmem.SummaryEntry
	Legacy    []chatmem.LegacyEntry

	// Entity catalogs. A nil slice leaves its section out.
	Characters []chatmem.CharacterEntry
	Events     []chatmem.EventEntry
	Items      []chatmem.ItemEntry

	// Budget is the token limit of the whole block. Zero or less means no
	// limit.
	Budget int
}

// Output is a composed memory block.
type Output struct {
	Text string

	// Tokens is the counted size of Text.
	Tokens int

	// Included lists the message indices of admitted current summaries in
	// ascending order.
	Included []int

	// Skipped lists the message indices of current summaries left out by
	// the budget, in ascending order.
	Skipped []int

	// Legacy counts admitted legacy entries.
	Legacy int
}

// Composer renders memory blocks under a token budget.
type Composer struct {
	counter tokenizer.Counter
}

// NewComposer returns a composer counting with c. A nil c falls back to
// [tokenizer.Heuristic].
func NewComposer(c tokenizer.Counter) *Composer {
	if c == nil {
		c = tokenizer.Heuristic{}
	}
	return &Composer{counter: c}
}

// candidate is one summary competing for the budget.
type candidate struct {
	legacy bool
	order  int // legacy order or message index
	text   string
	tokens int
}

// Compose builds the memory block for in.
//
// Candidates are admitted in priority order: legacy entries newest first,
// pinned summaries newest first, then the remaining summaries newest first.
// Admission stops at the first candidate that does not fit; every current
// summary not admitted is reported in Skipped. Admitted entries are rendered
// oldest first, followed by the entity sections that still fit. The rendered
// block is recounted and trimmed until it is within the budget.
//
// The same input always yields the same output.
func (c *Composer) Compose(ctx context.Context, in Input) (Output, error) {
	cands := candidates(in)
	if len(cands) == 0 && len(in.Characters)+len(in.Events)+len(in.Items) == 0 {
		return Output{}, nil
	}

	parts := make([]string, 0, len(cands)+1)
	parts = append(parts, Header)
	for _, cd := range cands {
		parts = append(parts, cd.text)
	}
	counts, err := tokenizer.CountEach(ctx, c.counter, parts)
	if err != nil {
		return Output{}, fmt.Errorf("inject: count: %w", err)
	}
	for i := range cands {
		cands[i].tokens = counts[i+1]
	}

	budget := in.Budget
	fits := func(used, n int) bool { return budget <= 0 || used+n <= budget }

	used := counts[0]
	if !fits(0, used) {
		return Output{Skipped: currentIndices(cands)}, nil
	}

	var admitted []candidate
	var skipped []int
	stopped := false
	for _, cd := range cands {
		cost := cd.tokens + EntryOverhead
		if !stopped && fits(used, cost) {
			used += cost
			admitted = append(admitted, cd)
			continue
		}
		stopped = true
		if !cd.legacy {
			skipped = append(skipped, cd.order)
		}
	}

	var sections []string
	for _, sec := range []string{
		characterSection(in.Characters),
		eventSection(in.Events),
		itemSection(in.Items),
	} {
		if sec == "" {
			continue
		}
		n, err := c.counter.Count(ctx, sec)
		if err != nil {
			return Output{}, fmt.Errorf("inject: count section: %w", err)
		}
		if !fits(used, n+EntryOverhead) {
			continue
		}
		used += n + EntryOverhead
		sections = append(sections, sec)
	}

	// Per-part counts may undercount the rendered block. Shed the lowest
	// priority content until the recount fits: entity sections first, then
	// admitted entries in reverse admission order.
	for {
		out := render(admitted, sections)
		if len(admitted) == 0 && len(sections) == 0 {
			slices.Sort(skipped)
			return Output{Skipped: skipped}, nil
		}
		if out.Tokens, err = c.counter.Count(ctx, out.Text); err != nil {
			return Output{}, fmt.Errorf("inject: count block: %w", err)
		}
		if budget <= 0 || out.Tokens <= budget {
			out.Skipped = skipped
			slices.Sort(out.Skipped)
			return out, nil
		}
		if len(sections) > 0 {
			sections = sections[:len(sections)-1]
			continue
		}
		last := admitted[len(admitted)-1]
		admitted = admitted[:len(admitted)-1]
		if !last.legacy {
			skipped = append(skipped, last.order)
		}
	}
}

// render lays out admitted entries oldest first under their section titles,
// followed by sections. Tokens is left for the caller to count.
func render(admitted []candidate, sections []string) Output {
	var legacy, current []candidate
	for _, cd := range admitted {
		if cd.legacy {
			legacy = append(legacy, cd)
		} else {
			current = append(current, cd)
		}
	}
	byOrder := func(a, b candidate) int { return cmp.Compare(a.order, b.order) }
	slices.SortFunc(legacy, byOrder)
	slices.SortFunc(current, byOrder)

	var sb strings.Builder
	sb.WriteString(Header)
	if len(legacy) > 0 {
		sb.WriteString("\n\n" + titlePrevious)
		for _, cd := range legacy {
			sb.WriteString("\n" + cd.text)
		}
	}
	if len(current) > 0 {
		sb.WriteString("\n\n" + titleCurrent)
		for _, cd := range current {
			sb.WriteString("\n\n" + cd.text)
		}
	}
	for _, sec := range sections {
		sb.WriteString("\n\n" + sec)
	}

	out := Output{Text: sb.String(), Legacy: len(legacy)}
	for _, cd := range current {
		out.Included = append(out.Included, cd.order)
	}
	return out
}

// candidates orders summaries by admission priority. Group members,
// invalidated entries, parse failures and empty entries never compete.
func candidates(in Input) []candidate {
	var out []candidate

	legacy := slices.Clone(in.Legacy)
	slices.SortStableFunc(legacy, func(a, b chatmem.LegacyEntry) int { return cmp.Compare(b.Order, a.Order) })
	for _, e := range legacy {
		if chatmem.ParseKind(e.Content).Failure == chatmem.FailureParseFailed {
			continue
		}
		if text := strings.TrimSpace(e.Content); text != "" {
			out = append(out, candidate{legacy: true, order: e.Order, text: text})
		}
	}

	var pinned, rest []candidate
	for _, i := range slices.Sorted(maps.Keys(in.Summaries)) {
		e := in.Summaries[i]
		k := e.Kind()
		if e.Invalidated || k.Failure == chatmem.FailureParseFailed ||
			k.Tag == chatmem.KindEmpty || k.Tag == chatmem.KindGroupMember {
			continue
		}
		body := chatmem.Body(e.Content)
		if body == "" {
			continue
		}
		cd := candidate{order: i, text: chatmem.WithHeader(label(e.Span(i)), body)}
		if k.Failure == chatmem.FailureIncomplete {
			cd.text = chatmem.WithHeader(label(e.Span(i)), chatmem.IncompleteMarker+"\n"+body)
		}
		if e.Pinned {
			pinned = append(pinned, cd)
		} else {
			rest = append(rest, cd)
		}
	}
	slices.Reverse(pinned)
	slices.Reverse(rest)
	out = append(out, pinned...)
	return append(out, rest...)
}

func currentIndices(cands []candidate) []int {
	var out []int
	for _, cd := range cands {
		if !cd.legacy {
			out = append(out, cd.order)
		}
	}
	slices.Sort(out)
	return out
}

// label renders the range header: "#N" for one message, "#S-E" otherwise.
func label(r chatmem.Range) string {
	if r.Len() <= 1 {
		return "#" + strconv.Itoa(r.Start)
	}
	return r.String()
}

// ── entity sections ──────────────────────────────────────────────────────────

func characterSection(chars []chatmem.CharacterEntry) string {
	if len(chars) == 0 {
		return ""
	}
	sorted := slices.Clone(chars)
	slices.SortFunc(sorted, func(a, b chatmem.CharacterEntry) int { return cmp.Compare(a.Name, b.Name) })

	var sb strings.Builder
	sb.WriteString(titleCharacters)
	for _, ch := range sorted {
		sb.WriteString("\n- " + ch.Name)
		var meta []string
		for _, v := range []string{ch.Role, ch.Age, ch.Occupation} {
			if v != "" {
				meta = append(meta, v)
			}
		}
		if len(meta) > 0 {
			sb.WriteString(" (" + strings.Join(meta, ", ") + ")")
		}
		if ch.Description != "" {
			sb.WriteString(": " + ch.Description)
		}
		if len(ch.Traits) > 0 {
			sb.WriteString(" Traits: " + strings.Join(ch.Traits, ", ") + ".")
		}
		if ch.RelationshipWithUser != "" {
			sb.WriteString(" Relationship: " + ch.RelationshipWithUser + ".")
		}
	}
	return sb.String()
}

func eventSection(events []chatmem.EventEntry) string {
	if len(events) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(titleEvents)
	for _, ev := range events {
		sb.WriteString("\n- ")
		if ev.MessageIndex != nil {
			sb.WriteString("#" + strconv.Itoa(*ev.MessageIndex) + " ")
		}
		sb.WriteString("[" + string(ev.Importance) + "] " + ev.Title)
		if ev.Description != "" {
			sb.WriteString(": " + ev.Description)
		}
		if len(ev.Participants) > 0 {
			sb.WriteString(" (" + strings.Join(ev.Participants, ", ") + ")")
		}
	}
	return sb.String()
}

func itemSection(items []chatmem.ItemEntry) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(titleItems)
	for _, it := range items {
		sb.WriteString("\n- " + it.Name)
		if it.Description != "" {
			sb.WriteString(": " + it.Description)
		}
		var meta []string
		for _, kv := range [][2]string{{"owner", it.Owner}, {"origin", it.Origin}, {"status", it.Status}} {
			if kv[1] != "" {
				meta = append(meta, kv[0]+": "+kv[1])
			}
		}
		if len(meta) > 0 {
			sb.WriteString(" (" + strings.Join(meta, ", ") + ")")
		}
	}
	return sb.String()
}
