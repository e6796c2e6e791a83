package summarizer

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/parser"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/prompt"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
)

// Entry kinds, used as the metric attribute.
const (
	kindIndividual = "individual"
	kindGroup      = "group"
	kindFailed     = "failed"
	kindIncomplete = "incomplete"
)

type windowStats struct {
	processed  int
	failed     int
	incomplete int
}

// process sends one prompt, parses the reply and stores an entry for every
// requested index or group. The store is persisted before returning.
func (s *Summarizer) process(ctx context.Context, settings config.Settings, cc *host.ChatContext, w window) (windowStats, error) {
	span := w.span()
	ctx, sp := observe.StartSpan(ctx, "summarizer.window", trace.WithAttributes(
		attribute.String("range", span.String()),
		attribute.Int("messages", len(w.indices)),
	))
	defer sp.End()

	in := prompt.Input{
		Chat:       cc,
		Indices:    w.indices,
		Summaries:  s.store.RelevantSummaries(ctx),
		Legacy:     s.store.LegacySummaries(ctx),
		Characters: s.store.RelevantCharacters(ctx),
	}
	b := prompt.New(settings)
	text := b.Individual(in)
	if w.groups != nil {
		text = b.Batch(in, w.groups)
	}

	if s.stopped(ctx) {
		return windowStats{}, ErrCancelled
	}
	reply, err := s.gen.Generate(ctx, text, llm.GenerateOptions{
		MaxTokens: settings.MaxTokens,
		Timeout:   settings.Timeout(),
		Model:     settings.Model,
	})
	// A reply that arrives after a stop request is dropped.
	if s.stopped(ctx) {
		return windowStats{}, ErrCancelled
	}
	if err != nil {
		return windowStats{}, fmt.Errorf("summarizer: generate %s: %w", span, err)
	}

	var res parser.Result
	if w.groups != nil {
		res = parser.ParseGroups(reply, w.groups)
	} else {
		res = restrict(parser.ParseIndividual(reply, span.Start, span.End), w.indices)
	}

	var st windowStats
	for _, blk := range res.Blocks {
		content := blk.Content
		kind := kindIndividual
		if blk.Range.Len() > 1 {
			kind = kindGroup
		}
		if blk.Incomplete {
			content = parser.MarkIncomplete(content)
			kind = kindIncomplete
			st.incomplete++
		}
		if blk.Strategy.Fallback() {
			s.recordFallback(ctx, blk.Strategy)
		}
		s.put(ctx, blk.Range, content)
		s.recordEntry(ctx, kind)
		st.processed += blk.Range.Len()
	}
	for _, r := range res.Missing {
		s.put(ctx, r, parser.FailurePlaceholder(r))
		s.recordEntry(ctx, kindFailed)
		st.failed++
		st.processed += r.Len()
	}
	if len(res.Missing) > 0 {
		observe.WithTrace(ctx, s.logger).Warn("summarizer: reply did not cover every block",
			"chat_id", cc.ChatID,
			"range", span.String(),
			"missing", len(res.Missing))
	}

	s.mergeEntities(ctx, settings, res.Entities, span.Start)

	if err := s.store.Save(ctx); err != nil {
		return st, fmt.Errorf("summarizer: save: %w", err)
	}
	sp.SetAttributes(attribute.Int("blocks", len(res.Blocks)), attribute.Int("missing", len(res.Missing)))
	return st, nil
}

// put stores content for r: a group entry with sentinels when r spans
// several messages, an individual entry otherwise.
func (s *Summarizer) put(ctx context.Context, r chatmem.Range, content string) {
	if r.Len() > 1 {
		s.store.SetGroupSummary(ctx, r, content)
		return
	}
	s.store.SetSummary(ctx, r.Start, content)
}

func (s *Summarizer) mergeEntities(ctx context.Context, settings config.Settings, ents parser.Entities, fallback int) {
	if settings.CharacterTrackingEnabled && len(ents.Characters) > 0 {
		s.store.MergeCharacters(ctx, ents.Characters, fallback)
	}
	if settings.EventTrackingEnabled && len(ents.Events) > 0 {
		s.store.MergeEvents(ctx, ents.Events, fallback)
	}
	if settings.ItemTrackingEnabled && len(ents.Items) > 0 {
		s.store.MergeItems(ctx, ents.Items, fallback)
	}
}

// restrict drops blocks and missing entries for indices outside the window,
// which happens when user-hidden messages sit between window indices.
func restrict(res parser.Result, indices []int) parser.Result {
	keep := func(r chatmem.Range) bool { return slices.Contains(indices, r.Start) }
	res.Blocks = slices.DeleteFunc(res.Blocks, func(b parser.Block) bool { return !keep(b.Range) })
	res.Missing = slices.DeleteFunc(res.Missing, func(r chatmem.Range) bool { return !keep(r) })
	return res
}

func (s *Summarizer) recordEntry(ctx context.Context, kind string) {
	if s.metrics != nil {
		s.metrics.RecordEntry(ctx, kind)
	}
}

func (s *Summarizer) recordFallback(ctx context.Context, strategy parser.Strategy) {
	if s.metrics != nil {
		s.metrics.RecordParseFallback(ctx, string(strategy))
	}
}
