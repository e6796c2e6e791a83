package chatmem

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Markers written into summary content. They are part of the stored text so
// that a reader of the raw summaries can see which indices need attention.
const (
	IncompleteMarker  = "[⚠ incomplete — resummarize recommended]"
	ParseFailedMarker = "[❌ parse failed — resummarize required]"
)

const (
	sentinelText       = "included in group summary"
	legacySentinelText = "그룹 요약에 포함"
)

// Range is an inclusive span of message indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// String renders the wire header "#S-E".
func (r Range) String() string { return fmt.Sprintf("#%d-%d", r.Start, r.End) }

// Contains reports whether i lies in r.
func (r Range) Contains(i int) bool { return i >= r.Start && i <= r.End }

// Len is the number of indices in r.
func (r Range) Len() int { return r.End - r.Start + 1 }

// Overlaps reports whether r and o share an index.
func (r Range) Overlaps(o Range) bool { return r.Start <= o.End && o.Start <= r.End }

// Sentinel renders the included sentinel for members of r.
func Sentinel(r Range) string {
	return fmt.Sprintf("[→ %s %s]", r, sentinelText)
}

// KindTag discriminates [SummaryKind].
type KindTag int

const (
	// KindEmpty marks an entry with no usable content.
	KindEmpty KindTag = iota
	KindIndividual
	KindGroupHead
	KindGroupMember
)

// String returns the tag name.
func (t KindTag) String() string {
	switch t {
	case KindIndividual:
		return "individual"
	case KindGroupHead:
		return "group"
	case KindGroupMember:
		return "member"
	default:
		return "empty"
	}
}

// Failure records a failure marker found in the content.
type Failure int

const (
	FailureNone Failure = iota
	FailureIncomplete
	FailureParseFailed
)

// SummaryKind is the parsed shape of a summary's content.
type SummaryKind struct {
	Tag KindTag

	// Range is the group range for heads and members. For an individual
	// entry with a "#N" header it is {N, N}; without a header it is {-1, -1}.
	Range Range

	Failure Failure
}

var (
	sentinelRe   = regexp.MustCompile(`^\[→\s*#(\d+)\s*[-~]\s*(\d+)\s+(?:` + sentinelText + `|` + legacySentinelText + `)\s*\]`)
	groupHeadRe  = regexp.MustCompile(`^#(\d+)\s*[-~]\s*(\d+)\b`)
	singleHeadRe = regexp.MustCompile(`^#(\d+)\b`)
)

// ParseKind classifies content. It never fails: unrecognised text is an
// individual summary without a header.
func ParseKind(content string) SummaryKind {
	text := strings.TrimSpace(content)
	if text == "" {
		return SummaryKind{Tag: KindEmpty, Range: Range{-1, -1}}
	}

	if m := sentinelRe.FindStringSubmatch(text); m != nil {
		return SummaryKind{Tag: KindGroupMember, Range: rangeOf(m[1], m[2])}
	}

	k := SummaryKind{Tag: KindIndividual, Range: Range{-1, -1}}
	switch marker := markerLine(text); {
	case strings.HasPrefix(marker, ParseFailedMarker):
		k.Failure = FailureParseFailed
	case strings.HasPrefix(marker, IncompleteMarker):
		k.Failure = FailureIncomplete
	}

	head := firstHeaderLine(text)
	if m := groupHeadRe.FindStringSubmatch(head); m != nil {
		k.Tag = KindGroupHead
		k.Range = rangeOf(m[1], m[2])
		return k
	}
	if m := singleHeadRe.FindStringSubmatch(head); m != nil {
		n, _ := strconv.Atoi(m[1])
		k.Range = Range{n, n}
	}
	return k
}

// markerLine returns the line a failure marker is written to: the line below
// the header, or the first line when there is no header. Marker text quoted
// anywhere else in a body does not classify the entry.
func markerLine(text string) string {
	line, rest, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if isHeader(line) {
		line, _, _ = strings.Cut(strings.TrimSpace(rest), "\n")
	}
	return strings.TrimSpace(line)
}

func isHeader(line string) bool {
	return groupHeadRe.MatchString(line) || singleHeadRe.MatchString(line)
}

// firstHeaderLine returns the first line, skipping a leading incomplete
// marker line written by older versions.
func firstHeaderLine(text string) string {
	line, rest, _ := strings.Cut(text, "\n")
	if strings.TrimSpace(line) == IncompleteMarker {
		line, _, _ = strings.Cut(strings.TrimSpace(rest), "\n")
	}
	return strings.TrimSpace(line)
}

func rangeOf(a, b string) Range {
	s, _ := strconv.Atoi(a)
	e, _ := strconv.Atoi(b)
	return Range{Start: s, End: e}
}

// Body returns content without its header line and without failure markers.
func Body(content string) string {
	text := strings.TrimSpace(content)
	text = strings.TrimSpace(strings.TrimPrefix(text, IncompleteMarker))
	line, rest, found := strings.Cut(text, "\n")
	if isHeader(strings.TrimSpace(line)) {
		if !found {
			return ""
		}
		text = strings.TrimSpace(rest)
	}
	text = strings.TrimPrefix(text, IncompleteMarker)
	return strings.TrimSpace(text)
}

// WithHeader returns content whose first line is header, replacing an
// existing "#N" or "#S-E" header line. A leading incomplete marker line is
// moved below the header.
func WithHeader(header, content string) string {
	text := strings.TrimSpace(content)
	incomplete := false
	if strings.HasPrefix(text, IncompleteMarker) {
		incomplete = true
		text = strings.TrimSpace(strings.TrimPrefix(text, IncompleteMarker))
	}
	line, rest, found := strings.Cut(text, "\n")
	if groupHeadRe.MatchString(strings.TrimSpace(line)) || singleHeadRe.MatchString(strings.TrimSpace(line)) {
		text = ""
		if found {
			text = strings.TrimSpace(rest)
		}
	}
	if incomplete && !strings.HasPrefix(text, IncompleteMarker) {
		text = IncompleteMarker + "\n" + text
	}
	if text == "" {
		return header
	}
	return header + "\n" + text
}

// canonicalSentinel rewrites a localized sentinel to the canonical form.
// Content that is not a sentinel is returned unchanged.
func canonicalSentinel(content string) string {
	k := ParseKind(content)
	if k.Tag != KindGroupMember {
		return content
	}
	canon := Sentinel(k.Range)
	if strings.TrimSpace(content) == canon {
		return content
	}
	return canon
}
