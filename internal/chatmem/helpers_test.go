package chatmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host/mock"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
)

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// newTestStore returns a store over a mock chat of n numbered messages.
func newTestStore(t *testing.T, n int) (*chatmem.Store, *mock.Host) {
	t.Helper()
	h := mock.New("chat-1", mock.NumberedMessages(n)...)
	s := chatmem.NewStore(h,
		chatmem.WithClock(func() time.Time { return fixedNow }),
		chatmem.WithErrorLog(opstate.NewErrorLog(0)),
	)
	return s, h
}

func content(t *testing.T, s *chatmem.Store, i int) string {
	t.Helper()
	e, ok := s.Summary(context.Background(), i)
	if !ok {
		t.Fatalf("no summary at %d", i)
	}
	return e.Content
}

func keys(m map[int]chatmem.SummaryEntry) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkGroupInvariant verifies that every head's members are sentinels for
// exactly its range and that no two groups overlap.
func checkGroupInvariant(t *testing.T, m chatmem.ChatMemory) {
	t.Helper()
	var heads []chatmem.Range
	for i, e := range m.Summaries {
		k := e.Kind()
		switch k.Tag {
		case chatmem.KindGroupHead:
			if k.Range.Start != i {
				t.Errorf("head %s stored at %d", k.Range, i)
			}
			for j := k.Range.Start + 1; j <= k.Range.End; j++ {
				me, ok := m.Summaries[j]
				if !ok {
					continue
				}
				if mk := me.Kind(); mk.Tag != chatmem.KindGroupMember || mk.Range != k.Range {
					t.Errorf("index %d inside %s holds %q", j, k.Range, me.Content)
				}
			}
			for _, h := range heads {
				if h.Overlaps(k.Range) {
					t.Errorf("groups %s and %s overlap", h, k.Range)
				}
			}
			heads = append(heads, k.Range)
		case chatmem.KindGroupMember:
			if !k.Range.Contains(i) || i == k.Range.Start {
				t.Errorf("member at %d points at %s", i, k.Range)
			}
		}
	}
	last := -1
	for i := range m.Summaries {
		last = max(last, i)
	}
	if m.LastSummarizedIndex != last {
		t.Errorf("LastSummarizedIndex = %d, want %d", m.LastSummarizedIndex, last)
	}
}
