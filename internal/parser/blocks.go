package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
)

// Header decorations tolerated around "#N" and "#S-E": a markdown heading
// prefix, bold markers, square or lenticular brackets and a trailing colon.
const (
	decoOpen  = `^[ \t]*(?:#{1,6}[ \t]+)?(?:\*\*)?[ \t]*(?:\[|【)?[ \t]*`
	decoClose = `[ \t]*(?:\]|】)?[ \t]*(?:\*\*)?[ \t]*:?`
)

var (
	// strictHeaderRe matches a header alone on its line.
	strictHeaderRe = regexp.MustCompile(`(?m)` + decoOpen + `#(\d+)(?:[ \t]*([-~])[ \t]*(\d+))?` + decoClose + `[ \t\r]*$`)

	// looseHeaderRe matches a header at the start of a line that may carry
	// text after it.
	looseHeaderRe = regexp.MustCompile(`(?m)` + decoOpen + `#(\d+)(?:[ \t]*([-~])[ \t]*(\d+))?` + decoClose)

	// inlineGroupRe finds a group header anywhere in a line.
	inlineGroupRe = regexp.MustCompile(`#(\d+)[ \t]*[-~][ \t]*(\d+)`)

	// bulletRe matches a category line: a bullet, an optionally bold label
	// and a colon.
	bulletRe = regexp.MustCompile(`^[ \t]*(?:[-*•·]|\d+\.)[ \t]+(?:\*\*)?([^:*：]{1,40}?)(?:\*\*)?[ \t]*[:：][ \t]*(?:\*\*)?[ \t]*(.*)$`)
)

// section is the text under one header.
type section struct {
	r     chatmem.Range
	group bool
	body  string
}

// sections splits text at every match of re. Text before the first header
// is discarded. A number followed directly by a letter ("#12th") is not a
// header.
func sections(text string, re *regexp.Regexp) []section {
	var locs [][]int
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		numEnd := m[3]
		if m[6] >= 0 {
			numEnd = m[7]
		}
		if r, _ := utf8.DecodeRuneInString(text[numEnd:]); unicode.IsLetter(r) {
			continue
		}
		locs = append(locs, m)
	}
	out := make([]section, 0, len(locs))
	for i, m := range locs {
		s := atoi(text[m[2]:m[3]])
		sec := section{r: chatmem.Range{Start: s, End: s}}
		if m[6] >= 0 {
			sec.r.End = atoi(text[m[6]:m[7]])
			sec.group = true
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sec.body = text[m[1]:end]
		out = append(out, sec)
	}
	return out
}

// normalize rewrites each category bullet to "* Label: body", drops blank
// lines, rules and code fences, and trims the result.
func normalize(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if t == "" || t == "---" || t == "***" || strings.HasPrefix(t, "```") {
			continue
		}
		if m := bulletRe.FindStringSubmatch(t); m != nil {
			label := strings.TrimSpace(strings.Trim(m[1], "*"))
			text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(m[2]), "**"))
			lines = append(lines, "* "+label+": "+text)
			continue
		}
		lines = append(lines, t)
	}
	return strings.Join(lines, "\n")
}

// isBullet reports whether line is a category line.
func isBullet(line string) bool { return bulletRe.MatchString(strings.TrimSpace(line)) }

func hasBullet(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if isBullet(line) {
			return true
		}
	}
	return false
}

func block(r chatmem.Range, body string, s Strategy) (Block, bool) {
	body = normalize(body)
	if body == "" {
		return Block{}, false
	}
	return Block{Range: r, Content: header(r) + "\n" + body, Strategy: s}, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Individual mode
// ─────────────────────────────────────────────────────────────────────────────

// ParseIndividual parses a reply that should hold one "#N" block for every
// index in [start, end].
//
// Headers alone on their line are tried first, then headers followed by
// text. If the reply numbers its blocks consecutively but not from start
// (zero-based or off by one) and has exactly one block per requested index,
// the blocks are mapped in order. A single requested index also accepts a
// reply with no header at all, provided it contains category lines.
func ParseIndividual(text string, start, end int) Result {
	rest, ents := ExtractEntities(text)
	want := make([]chatmem.Range, 0, end-start+1)
	for i := start; i <= end; i++ {
		want = append(want, chatmem.Range{Start: i, End: i})
	}

	blocks := map[chatmem.Range]Block{}
	collect := func(secs []section, strategy Strategy) {
		for _, sec := range secs {
			if sec.group || sec.r.Start < start || sec.r.Start > end {
				continue
			}
			if _, dup := blocks[sec.r]; dup {
				continue
			}
			if b, ok := block(sec.r, sec.body, strategy); ok {
				blocks[sec.r] = b
			}
		}
	}
	collect(sections(rest, strictHeaderRe), StrategyHeader)

	secs := sections(rest, looseHeaderRe)
	if len(blocks) < len(want) {
		collect(secs, StrategySplit)
	}

	if len(blocks) < len(want) && len(secs) == len(want) && consecutive(secs) {
		positional := map[chatmem.Range]Block{}
		for i, sec := range secs {
			if b, ok := block(want[i], sec.body, StrategyPositional); ok {
				positional[want[i]] = b
			}
		}
		if len(positional) > len(blocks) {
			blocks = positional
		}
	}

	if len(secs) == 0 && len(want) == 1 && hasBullet(rest) {
		if b, ok := block(want[0], rest, StrategyHeaderless); ok {
			blocks[want[0]] = b
		}
	}

	return finish(blocks, want, ents)
}

// consecutive reports whether single-index sections are numbered n, n+1, ...
func consecutive(secs []section) bool {
	for i, s := range secs {
		if s.group || s.r.Start != secs[0].r.Start+i {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Batch-group mode
// ─────────────────────────────────────────────────────────────────────────────

// ParseGroups parses a reply that should hold one "#S-E" block per group.
//
// A group matches a header written as "#S-E", "#S~E" or "[#S-E]"; a
// one-message group also matches "#S". Groups still missing are recovered by
// scanning lines for inline "#a-b" headers and collecting the category lines
// below them. When the reply has exactly one group header per requested
// group, misnumbered headers are mapped in order.
//
// When several groups were requested and the reply has no group header at
// all, nothing is claimed: attributing the whole reply to one group would
// duplicate it across the window.
func ParseGroups(text string, groups []chatmem.Range) Result {
	rest, ents := ExtractEntities(text)
	blocks := map[chatmem.Range]Block{}

	wanted := make(map[chatmem.Range]bool, len(groups))
	for _, g := range groups {
		wanted[g] = true
	}

	secs := sections(rest, looseHeaderRe)
	var groupSecs []section
	for _, sec := range secs {
		r := sec.r
		if sec.group {
			groupSecs = append(groupSecs, sec)
		}
		if !wanted[r] {
			continue
		}
		if _, dup := blocks[r]; dup {
			continue
		}
		if b, ok := block(r, sec.body, StrategyHeader); ok {
			blocks[r] = b
		}
	}

	if len(blocks) < len(groups) {
		for r, body := range scanLines(rest) {
			if !wanted[r] {
				continue
			}
			if _, ok := blocks[r]; ok {
				continue
			}
			if b, ok := block(r, body, StrategyLineScan); ok {
				blocks[r] = b
			}
		}
	}

	if len(blocks) < len(groups) && len(groupSecs) == len(groups) {
		positional := map[chatmem.Range]Block{}
		for i, sec := range groupSecs {
			if b, ok := block(groups[i], sec.body, StrategyPositional); ok {
				positional[groups[i]] = b
			}
		}
		if len(positional) > len(blocks) {
			blocks = positional
		}
	}

	if len(groups) == 1 && len(secs) == 0 && hasBullet(rest) {
		if b, ok := block(groups[0], rest, StrategyHeaderless); ok {
			blocks[groups[0]] = b
		}
	}

	return finish(blocks, groups, ents)
}

// scanLines walks text line by line. A line containing "#a-b" opens range
// {a, b}; category lines after it are collected for that range until the
// next such line.
func scanLines(text string) map[chatmem.Range]string {
	out := map[chatmem.Range]string{}
	var cur *chatmem.Range
	for _, line := range strings.Split(text, "\n") {
		if m := inlineGroupRe.FindStringSubmatch(line); m != nil {
			r := chatmem.Range{Start: atoi(m[1]), End: atoi(m[2])}
			cur = &r
			// The header line may carry the first category inline.
			if idx := strings.Index(line, "*"); idx >= 0 && isBullet(line[idx:]) {
				out[r] += line[idx:] + "\n"
			}
			continue
		}
		if cur != nil && isBullet(line) {
			out[*cur] += line + "\n"
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func itoa(n int) string { return strconv.Itoa(n) }
