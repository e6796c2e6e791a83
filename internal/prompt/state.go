package prompt

import (
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
)

// State is the story continuity carried into the next prompt.
type State struct {
	Time         string
	Location     string
	Relationship string
}

var categoryLineRe = regexp.MustCompile(`^[ \t]*[-*•][ \t]*(?:\*\*)?([^:*：]{1,40}?)(?:\*\*)?[ \t]*[:：][ \t]*(.*)$`)

// PreviousState scans the summaries stored before start, newest first. For
// each field the first value that is neither empty nor a placeholder such as
// "unknown" or "same" wins. Fields never found are the localized unknown.
func (b *Builder) PreviousState(summaries map[int]chatmem.SummaryEntry, start int) State {
	fields := map[string]*string{}
	var st State
	for id, dst := range map[string]*string{
		config.CategoryTime:         &st.Time,
		config.CategoryLocation:     &st.Location,
		config.CategoryRelationship: &st.Relationship,
	} {
		for _, label := range b.labelsOf(id) {
			fields[label] = dst
		}
	}

	keys := slices.Sorted(maps.Keys(summaries))
	for i := len(keys) - 1; i >= 0; i-- {
		idx := keys[i]
		if idx >= start {
			continue
		}
		e := summaries[idx]
		if e.Kind().Tag == chatmem.KindGroupMember {
			continue
		}
		for _, line := range strings.Split(chatmem.Body(e.Content), "\n") {
			m := categoryLineRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			dst, ok := fields[strings.ToLower(strings.TrimSpace(m[1]))]
			if !ok || *dst != "" || isPlaceholder(m[2]) {
				continue
			}
			*dst = strings.TrimSpace(m[2])
		}
		if st.Time != "" && st.Location != "" && st.Relationship != "" {
			break
		}
	}

	unknown := Unknown(b.settings.SummaryLanguage)
	for _, p := range []*string{&st.Time, &st.Location, &st.Relationship} {
		if *p == "" {
			*p = unknown
		}
	}
	return st
}

// labelsOf returns the lower-cased names a category line may carry: the
// configured label, the built-in label and the id.
func (b *Builder) labelsOf(id string) []string {
	out := []string{strings.ToLower(b.settings.Label(id)), strings.ToLower(id)}
	if c, ok := config.DefaultCategories()[id]; ok {
		out = append(out, strings.ToLower(c.Label))
	}
	return out
}
