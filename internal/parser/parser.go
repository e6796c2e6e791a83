// Package parser turns raw model output into summary blocks and extracted
// entities.
//
// Models rarely follow the requested wire format exactly. The parser removes
// the delimited entity blocks first, then locates summary headers with a
// strict pattern, a permissive pattern and finally by position, so that a
// reply with decorated or misnumbered headers still lands on the right
// message indices. Every requested index ends up either with a block or in
// [Result.Missing]; the caller stores a [FailurePlaceholder] for the latter.
//
// All functions are pure and safe for concurrent use.
package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
)

// Strategy names the parsing step that produced a block.
type Strategy string

const (
	// StrategyHeader matched a header alone on its line.
	StrategyHeader Strategy = "header"

	// StrategySplit matched a header followed by text on the same line.
	StrategySplit Strategy = "split"

	// StrategyPositional mapped misnumbered headers onto the requested
	// indices in order.
	StrategyPositional Strategy = "positional"

	// StrategyHeaderless took a reply without any header for the only
	// requested index or group.
	StrategyHeaderless Strategy = "headerless"

	// StrategyLineScan collected category lines under inline group headers.
	StrategyLineScan Strategy = "line_scan"
)

// Fallback reports whether s is anything other than a clean header match.
func (s Strategy) Fallback() bool { return s != StrategyHeader }

// Block is one parsed summary.
type Block struct {
	// Range is the index, or group range, the block stands for.
	Range chatmem.Range

	// Content starts with the canonical header ("#N" or "#S-E") followed by
	// the normalised body.
	Content string

	// Incomplete is set when the block looks truncated. The caller stores it
	// through [MarkIncomplete].
	Incomplete bool

	Strategy Strategy
}

// Result is the outcome of parsing one model reply.
type Result struct {
	// Blocks are ordered by Range.Start.
	Blocks []Block

	// Missing lists requested indices or groups without a block.
	Missing []chatmem.Range

	Entities Entities
}

// header renders the wire header of r: "#N" for one index, "#S-E" otherwise.
func header(r chatmem.Range) string {
	if r.Len() == 1 {
		return "#" + itoa(r.Start)
	}
	return r.String()
}

// FailurePlaceholder is stored for a requested index or group the reply did
// not cover.
func FailurePlaceholder(r chatmem.Range) string {
	return header(r) + "\n" + chatmem.ParseFailedMarker
}

// MarkIncomplete puts the incomplete marker on the line below the header, or
// on the first line when content has no header. Content that already carries
// the marker is returned unchanged.
func MarkIncomplete(content string) string {
	text := strings.TrimSpace(content)
	if chatmem.ParseKind(text).Failure == chatmem.FailureIncomplete {
		return text
	}
	first, rest, _ := strings.Cut(text, "\n")
	if !isHeaderLine(first) {
		return chatmem.IncompleteMarker + "\n" + text
	}
	if rest = strings.TrimSpace(rest); rest == "" {
		return first + "\n" + chatmem.IncompleteMarker
	}
	return first + "\n" + chatmem.IncompleteMarker + "\n" + rest
}

func isHeaderLine(line string) bool {
	k := chatmem.ParseKind(strings.TrimSpace(line))
	return k.Tag == chatmem.KindGroupHead || k.Range.Start >= 0
}

// minBlockRunes is the length below which a block is considered truncated.
const minBlockRunes = 15

// IsIncomplete reports whether text looks cut off: too short, an odd number
// of double quotes, more opening than closing brackets, or an entity block
// that was opened and never closed. A leading header line is not counted.
func IsIncomplete(text string) bool {
	body := strings.TrimSpace(text)
	if first, rest, _ := strings.Cut(body, "\n"); isHeaderLine(first) {
		body = strings.TrimSpace(rest)
	}
	if utf8.RuneCountInString(body) < minBlockRunes {
		return true
	}
	if strings.Count(body, `"`)%2 != 0 {
		return true
	}
	if strings.Count(body, "“") != strings.Count(body, "”") {
		return true
	}
	opens := strings.Count(body, "(") + strings.Count(body, "[") + strings.Count(body, "{")
	closes := strings.Count(body, ")") + strings.Count(body, "]") + strings.Count(body, "}")
	if opens > closes {
		return true
	}
	for _, tag := range []string{tagCharacters, tagCharactersJSON} {
		if strings.Count(body, "["+tag+"]") > strings.Count(body, "[/"+tag+"]") {
			return true
		}
	}
	return false
}

// finish sorts blocks, fills Missing from want and flags incompleteness.
func finish(blocks map[chatmem.Range]Block, want []chatmem.Range, ents Entities) Result {
	res := Result{Entities: ents}
	for _, r := range want {
		b, ok := blocks[r]
		if !ok {
			res.Missing = append(res.Missing, r)
			continue
		}
		b.Incomplete = IsIncomplete(b.Content)
		res.Blocks = append(res.Blocks, b)
	}
	// An unclosed entity block means the reply was cut at its tail.
	if ents.Unclosed && len(res.Blocks) > 0 {
		res.Blocks[len(res.Blocks)-1].Incomplete = true
	}
	return res
}
