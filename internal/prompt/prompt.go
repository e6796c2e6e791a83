// Package prompt assembles the model input for one summarization window.
//
// Both prompt shapes share the same section order: language directive, user
// instructions, profile, previous state, recent summaries, known characters,
// the messages themselves, the list of required blocks, the output format,
// the entity extraction blocks and a closing language reminder. Empty
// sections are omitted rather than rendered as bare headings.
//
// The builder is pure: it performs no I/O and is safe for concurrent use.
package prompt

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
)

// Input is the material for one prompt.
type Input struct {
	Chat *host.ChatContext

	// Indices are the messages to summarize, ascending.
	Indices []int

	// Summaries, Legacy and Characters are the relevant views of the store.
	Summaries  map[int]chatmem.SummaryEntry
	Legacy     []chatmem.LegacyEntry
	Characters []chatmem.CharacterEntry
}

func (in Input) first() int {
	if len(in.Indices) == 0 {
		return 0
	}
	return in.Indices[0]
}

// Builder renders prompts for one settings snapshot.
type Builder struct {
	settings config.Settings
}

// New returns a builder for s. s is copied.
func New(s config.Settings) *Builder {
	return &Builder{settings: s.Clone()}
}

// Individual builds a prompt asking for one "#N" block per message.
func (b *Builder) Individual(in Input) string {
	return b.build(in, nil)
}

// Batch builds a prompt asking for one "#S-E" block per group.
func (b *Builder) Batch(in Input, groups []chatmem.Range) string {
	return b.build(in, groups)
}

func (b *Builder) build(in Input, groups []chatmem.Range) string {
	s := b.settings
	batch := groups != nil
	st := b.PreviousState(in.Summaries, in.first())

	var parts []string
	add := func(text string) {
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	// ── Language directive ────────────────────────────────────────────────────
	add(languageDirective(s.SummaryLanguage))

	// ── User instructions ─────────────────────────────────────────────────────
	tmpl := cmp.Or(s.CustomPromptTemplate, DefaultTemplate)
	if batch {
		tmpl = cmp.Or(s.CustomBatchPromptTemplate, DefaultBatchTemplate)
	}
	add(b.substitute(tmpl, st, in.Chat))

	// ── Profile ───────────────────────────────────────────────────────────────
	add(b.profileSection(in.Chat))

	// ── Previous state ────────────────────────────────────────────────────────
	add(fmt.Sprintf("## Previous State\n* %s: %s\n* %s: %s\n* %s: %s",
		s.Label(config.CategoryTime), st.Time,
		s.Label(config.CategoryLocation), st.Location,
		s.Label(config.CategoryRelationship), st.Relationship))

	// ── Recent summaries ──────────────────────────────────────────────────────
	add(b.recentSection(in))

	// ── Known characters ──────────────────────────────────────────────────────
	if s.CharacterTrackingEnabled {
		add(charactersSection(in.Characters))
	}

	// ── Messages ──────────────────────────────────────────────────────────────
	add(messagesSection(in.Chat, in.Indices))

	// ── Required blocks ───────────────────────────────────────────────────────
	if batch {
		add(requiredGroups(groups))
	} else {
		add(requiredIndices(in.Indices))
	}

	// ── Output format ─────────────────────────────────────────────────────────
	add(b.formatSection(batch))

	// ── Entity extraction ─────────────────────────────────────────────────────
	if s.CharacterTrackingEnabled {
		add(b.substitute(cmp.Or(s.CustomCharacterPromptTemplate, DefaultCharacterTemplate), st, in.Chat))
	}
	if s.EventTrackingEnabled {
		add(b.substitute(cmp.Or(s.CustomEventPromptTemplate, DefaultEventTemplate), st, in.Chat))
	}
	if s.ItemTrackingEnabled {
		add(b.substitute(cmp.Or(s.CustomItemPromptTemplate, DefaultItemTemplate), st, in.Chat))
	}

	// ── Reminder ──────────────────────────────────────────────────────────────
	add(languageReminder(s.SummaryLanguage))

	return strings.Join(parts, "\n\n")
}

// substitute fills the template placeholders.
func (b *Builder) substitute(tmpl string, st State, cc *host.ChatContext) string {
	user, char := "User", "Character"
	if cc != nil {
		user = cmp.Or(cc.UserName, user)
		char = cmp.Or(cc.CharName, char)
	}
	return strings.NewReplacer(
		PlaceholderPrevTime, st.Time,
		PlaceholderPrevLocation, st.Location,
		PlaceholderPrevRelationship, st.Relationship,
		PlaceholderUser, user,
		PlaceholderChar, char,
	).Replace(tmpl)
}

// ─────────────────────────────────────────────────────────────────────────────
// Sections
// ─────────────────────────────────────────────────────────────────────────────

func (b *Builder) profileSection(cc *host.ChatContext) string {
	if cc == nil {
		return ""
	}
	s := b.settings
	var sb strings.Builder
	if c := cc.Character; c != nil && s.IncludeCharacterCard {
		fmt.Fprintf(&sb, "### Character: %s\n", cmp.Or(c.Name, cc.CharName))
		for _, f := range []struct{ label, text string }{
			{"Description", c.Description},
			{"Personality", c.Personality},
		} {
			if t := strings.TrimSpace(f.text); t != "" {
				fmt.Fprintf(&sb, "%s: %s\n", f.label, t)
			}
		}
		// The host already sends the scenario field in raw prompt mode.
		if t := strings.TrimSpace(c.Scenario); t != "" && !s.RawPromptMode {
			fmt.Fprintf(&sb, "Scenario: %s\n", t)
		}
	}
	if p := strings.TrimSpace(cc.Persona); p != "" && s.IncludePersona {
		fmt.Fprintf(&sb, "### User: %s\n%s\n", cmp.Or(cc.UserName, "User"), p)
	}
	if s.IncludeWorldInfo {
		var lines []string
		for _, w := range cc.WorldInfo {
			if w = strings.TrimSpace(w); w != "" {
				lines = append(lines, "- "+w)
			}
		}
		if len(lines) > 0 {
			sb.WriteString("### World Info\n")
			sb.WriteString(strings.Join(lines, "\n"))
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	return "## Profile\n" + sb.String()
}

// recentSection renders the last SummaryContextCount summaries before the
// window. Legacy entries sort before current ones: a legacy entry's virtual
// time is its order and a current entry's is the legacy count plus its index.
func (b *Builder) recentSection(in Input) string {
	n := b.settings.SummaryContextCount
	if n == 0 {
		return ""
	}
	type item struct {
		at   int
		text string
	}
	var items []item
	for _, l := range in.Legacy {
		if t := strings.TrimSpace(l.Content); t != "" {
			items = append(items, item{at: l.Order, text: t})
		}
	}
	base := len(in.Legacy)
	start := in.first()
	for idx, e := range in.Summaries {
		k := e.Kind()
		if k.Tag == chatmem.KindEmpty || k.Tag == chatmem.KindGroupMember || k.Failure == chatmem.FailureParseFailed {
			continue
		}
		if e.Span(idx).End >= start {
			continue
		}
		items = append(items, item{at: base + idx, text: strings.TrimSpace(e.Content)})
	}
	if len(items) == 0 {
		return ""
	}
	slices.SortStableFunc(items, func(x, y item) int { return cmp.Compare(x.at, y.at) })
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.text
	}
	return "## Recent Summaries\n" + strings.Join(texts, "\n\n")
}

// charactersSection renders one compact line per known character.
func charactersSection(chars []chatmem.CharacterEntry) string {
	if len(chars) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Known Characters")
	for _, c := range chars {
		var facts []string
		for _, f := range []string{c.Role, c.Age, c.Occupation} {
			if f != "" {
				facts = append(facts, f)
			}
		}
		fmt.Fprintf(&sb, "\n- %s", c.Name)
		if len(facts) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(facts, ", "))
		}
		if c.Description != "" {
			fmt.Fprintf(&sb, ": %s", c.Description)
		}
		if len(c.Traits) > 0 {
			fmt.Fprintf(&sb, " Traits: %s.", strings.Join(c.Traits, ", "))
		}
		if c.RelationshipWithUser != "" {
			fmt.Fprintf(&sb, " Relationship: %s.", c.RelationshipWithUser)
		}
	}
	return sb.String()
}

func messagesSection(cc *host.ChatContext, indices []int) string {
	if cc == nil || len(indices) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Messages To Summarize")
	for _, i := range indices {
		if i < 0 || i >= len(cc.Messages) {
			continue
		}
		m := cc.Messages[i]
		fmt.Fprintf(&sb, "\n[#%d] %s: %s", i, speaker(cc, m), strings.TrimSpace(m.Text))
	}
	return sb.String()
}

func speaker(cc *host.ChatContext, m host.Message) string {
	if m.Name != "" {
		return m.Name
	}
	if m.IsUser {
		return cmp.Or(cc.UserName, "User")
	}
	return cmp.Or(cc.CharName, "Character")
}

func requiredIndices(indices []int) string {
	if len(indices) < 2 {
		return ""
	}
	heads := make([]string, len(indices))
	for i, idx := range indices {
		heads[i] = fmt.Sprintf("#%d", idx)
	}
	return fmt.Sprintf("## Required Blocks\nWrite exactly %d blocks, #%d..#%d, one per message: %s. Do not merge or skip messages.",
		len(indices), indices[0], indices[len(indices)-1], strings.Join(heads, ", "))
}

func requiredGroups(groups []chatmem.Range) string {
	heads := make([]string, len(groups))
	for i, g := range groups {
		heads[i] = groupLabel(g)
	}
	return fmt.Sprintf("## Required Blocks\nWrite exactly %d blocks, one per group, with these headers: %s.",
		len(groups), strings.Join(heads, ", "))
}

// groupLabel is "#N" for a one-message group and "#S-E" otherwise.
func groupLabel(r chatmem.Range) string {
	if r.Len() == 1 {
		return fmt.Sprintf("#%d", r.Start)
	}
	return r.String()
}

func (b *Builder) formatSection(batch bool) string {
	s := b.settings
	var sb strings.Builder
	sb.WriteString("## Output Format\n")
	if batch {
		sb.WriteString("For each group write its header alone on a line, then one line per category:\n#<start>-<end>\n")
	} else {
		sb.WriteString("For each message write its header alone on a line, then one line per category:\n#<index>\n")
	}
	for _, id := range s.EnabledCategories() {
		instr := s.Categories[id].Instruction
		if instr == "" {
			instr = config.DefaultCategories()[id].Instruction
		}
		fmt.Fprintf(&sb, "* %s: %s\n", s.Label(id), instr)
	}
	sb.WriteString("Separate blocks with a blank line. Put the entity blocks after all summary blocks.")
	return sb.String()
}
