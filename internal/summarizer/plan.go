package summarizer

import (
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
)

// window is the work of one model call. groups is nil in individual mode.
type window struct {
	indices []int
	groups  []chatmem.Range
}

// span is the range from the first to the last index of the window.
func (w window) span() chatmem.Range {
	if len(w.groups) > 0 {
		return chatmem.Range{Start: w.groups[0].Start, End: w.groups[len(w.groups)-1].End}
	}
	if len(w.indices) == 0 {
		return chatmem.Range{Start: -1, End: -1}
	}
	return chatmem.Range{Start: w.indices[0], End: w.indices[len(w.indices)-1]}
}

// visible returns the indices in r the user has not hidden.
func visible(h host.Host, cc *host.ChatContext, r chatmem.Range) []int {
	var out []int
	for i := max(r.Start, 0); i <= r.End && i < len(cc.Messages); i++ {
		if h.IsUserHidden(cc.Messages[i]) {
			continue
		}
		out = append(out, i)
	}
	return out
}

// plan slices indices into windows of at most BatchSize messages.
//
// In batch mode the indices are first cut into groups of BatchGroupSize and
// whole groups are packed into windows, so a group never straddles two model
// calls. A group's range runs from its first to its last index and may
// therefore cover a user-hidden message between them.
func plan(indices []int, s config.Settings) []window {
	if len(indices) == 0 {
		return nil
	}
	batch := max(s.BatchSize, 1)

	if s.SummaryMode != config.ModeBatch {
		var out []window
		for lo := 0; lo < len(indices); lo += batch {
			hi := min(lo+batch, len(indices))
			out = append(out, window{indices: indices[lo:hi:hi]})
		}
		return out
	}

	size := s.GroupSize()
	perWindow := max(batch/size, 1)

	var out []window
	var cur window
	for lo := 0; lo < len(indices); lo += size {
		hi := min(lo+size, len(indices))
		g := indices[lo:hi]
		cur.groups = append(cur.groups, chatmem.Range{Start: g[0], End: g[len(g)-1]})
		cur.indices = append(cur.indices, g...)
		if len(cur.groups) == perWindow {
			out = append(out, cur)
			cur = window{}
		}
	}
	if len(cur.groups) > 0 {
		out = append(out, cur)
	}
	return out
}
