package chatmem_test

import (
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
)

func TestParseKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		want    chatmem.SummaryKind
	}{
		{"empty", "  ", chatmem.SummaryKind{Tag: chatmem.KindEmpty, Range: chatmem.Range{Start: -1, End: -1}}},
		{"individual with header", "#4\n* Scenario: x", chatmem.SummaryKind{Tag: chatmem.KindIndividual, Range: chatmem.Range{Start: 4, End: 4}}},
		{"individual without header", "* Scenario: x", chatmem.SummaryKind{Tag: chatmem.KindIndividual, Range: chatmem.Range{Start: -1, End: -1}}},
		{"group head", "#5-9\n* Scenario: x", chatmem.SummaryKind{Tag: chatmem.KindGroupHead, Range: chatmem.Range{Start: 5, End: 9}}},
		{"group head tilde", "#5~9\n* Scenario: x", chatmem.SummaryKind{Tag: chatmem.KindGroupHead, Range: chatmem.Range{Start: 5, End: 9}}},
		{"sentinel", "[→ #0-4 included in group summary]", chatmem.SummaryKind{Tag: chatmem.KindGroupMember, Range: chatmem.Range{Start: 0, End: 4}}},
		{"korean sentinel", "[→ #10-14 그룹 요약에 포함]", chatmem.SummaryKind{Tag: chatmem.KindGroupMember, Range: chatmem.Range{Start: 10, End: 14}}},
		{"parse failed", "#3\n" + chatmem.ParseFailedMarker, chatmem.SummaryKind{Tag: chatmem.KindIndividual, Range: chatmem.Range{Start: 3, End: 3}, Failure: chatmem.FailureParseFailed}},
		{"incomplete group", "#0-4\n" + chatmem.IncompleteMarker + "\n* Scenario: cut", chatmem.SummaryKind{Tag: chatmem.KindGroupHead, Range: chatmem.Range{Start: 0, End: 4}, Failure: chatmem.FailureIncomplete}},
		{"quoted parse marker in body", "#6\n* Scenario: The log read \"" + chatmem.ParseFailedMarker + "\".", chatmem.SummaryKind{Tag: chatmem.KindIndividual, Range: chatmem.Range{Start: 6, End: 6}}},
		{"quoted incomplete marker later", "#1-3\n* Scenario: x\n" + chatmem.IncompleteMarker, chatmem.SummaryKind{Tag: chatmem.KindGroupHead, Range: chatmem.Range{Start: 1, End: 3}}},
		{"legacy marker first", chatmem.IncompleteMarker + "\n#2\n* Scenario: cut", chatmem.SummaryKind{Tag: chatmem.KindIndividual, Range: chatmem.Range{Start: 2, End: 2}, Failure: chatmem.FailureIncomplete}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := chatmem.ParseKind(tc.content); got != tc.want {
				t.Errorf("ParseKind(%q) = %+v, want %+v", tc.content, got, tc.want)
			}
		})
	}
}

func TestWithHeaderAndBody(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, header, in, want, body string
	}{
		{"replace group header", "#3-5", "#3-6\n* Scenario: x", "#3-5\n* Scenario: x", "* Scenario: x"},
		{"add header", "#2", "* Scenario: x", "#2\n* Scenario: x", "* Scenario: x"},
		{"marker moves below header", "#1", chatmem.IncompleteMarker + "\n#0\n* Scenario: x", "#1\n" + chatmem.IncompleteMarker + "\n* Scenario: x", "* Scenario: x"},
		{"header only", "#7", "#8", "#7", ""},
		{"quoted marker kept in body", "#4", "#4\n* Scenario: \"" + chatmem.IncompleteMarker + "\"", "#4\n* Scenario: \"" + chatmem.IncompleteMarker + "\"", "* Scenario: \"" + chatmem.IncompleteMarker + "\""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := chatmem.WithHeader(tc.header, tc.in)
			if got != tc.want {
				t.Errorf("WithHeader = %q, want %q", got, tc.want)
			}
			if b := chatmem.Body(got); b != tc.body {
				t.Errorf("Body = %q, want %q", b, tc.body)
			}
		})
	}
}

func TestRange(t *testing.T) {
	t.Parallel()
	r := chatmem.Range{Start: 3, End: 6}
	if r.String() != "#3-6" || r.Len() != 4 || !r.Contains(6) || r.Contains(7) {
		t.Errorf("range helpers wrong for %+v", r)
	}
	if !r.Overlaps(chatmem.Range{Start: 6, End: 9}) || r.Overlaps(chatmem.Range{Start: 7, End: 9}) {
		t.Error("Overlaps wrong")
	}
	if got := chatmem.Sentinel(r); got != "[→ #3-6 included in group summary]" {
		t.Errorf("Sentinel = %q", got)
	}
}
