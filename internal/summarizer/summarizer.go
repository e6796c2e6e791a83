// Package summarizer drives the summarization pipeline.
//
// A run selects the messages to compress, groups them, sends one prompt per
// window to the model, parses the reply and stores one entry for every
// requested index or group before moving on. An index the reply did not
// cover is stored as a parse-failed placeholder, so a run never silently
// loses an index. The store is persisted after every window; a failing model
// call ends the run but keeps what earlier windows wrote.
//
// At most one run is active at a time. The claim is taken on the shared
// [opstate.State], so a run started by the event bindings and one started by
// the CLI exclude each other. [Summarizer.RequestStop] is observed before and
// after every model call; a reply that arrives after a stop request is
// dropped.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
)

var (
	// ErrCancelled is reported when a stop request or a cancelled context
	// ended the run.
	ErrCancelled = errors.New("summarizer: cancelled")

	// ErrAlreadyRunning is reported when another run holds the summarizing
	// flag.
	ErrAlreadyRunning = errors.New("summarizer: already running")

	// ErrDisabled is reported when the summarizer is switched off in the
	// settings.
	ErrDisabled = errors.New("summarizer: disabled")
)

// Run triggers, used as the metric attribute.
const (
	triggerManual      = "manual"
	triggerAuto        = "auto"
	triggerResummarize = "resummarize"
)

// Result is the outcome of one run.
type Result struct {
	// Success is true when every planned window was processed.
	Success bool

	// Processed counts message indices covered by stored entries, parse
	// failure placeholders included.
	Processed int

	// Failed counts entries stored as parse-failed placeholders.
	Failed int

	// Incomplete counts entries stored with the incomplete marker.
	Incomplete int

	// Windows counts model calls whose reply was stored.
	Windows int

	// Skipped is set when an automatic run found nothing to do.
	Skipped bool

	Err error
}

// Progress is reported after every stored window.
type Progress struct {
	Window    int
	Windows   int
	Processed int
	Range     chatmem.Range
}

// RunOptions configures [Summarizer.Run].
type RunOptions struct {
	// Range limits the run. Nil summarizes everything after the last
	// summarized index.
	Range *chatmem.Range

	OnProgress func(Progress)
}

// SettingsSource yields the settings snapshot for one run. [*config.Live]
// implements it.
type SettingsSource interface {
	Load() config.Settings
}

// StatusObserver is told when a run has written summaries. The visibility
// controller and the injector are the usual observers.
type StatusObserver interface {
	SummariesChanged(ctx context.Context)
}

// ObserverFunc adapts a function to [StatusObserver].
type ObserverFunc func(ctx context.Context)

// SummariesChanged implements [StatusObserver].
func (f ObserverFunc) SummariesChanged(ctx context.Context) { f(ctx) }

// Summarizer runs the pipeline against one host and store.
type Summarizer struct {
	store     *chatmem.Store
	host      host.Host
	gen       llm.Generator
	settings  SettingsSource
	state     *opstate.State
	metrics   *observe.Metrics
	logger    *slog.Logger
	observers []StatusObserver
}

// Option configures a [Summarizer].
type Option func(*Summarizer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records runs and stored entries in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Summarizer) { s.metrics = m }
}

// WithObserver adds observers notified after runs that wrote summaries.
func WithObserver(obs ...StatusObserver) Option {
	return func(s *Summarizer) { s.observers = append(s.observers, obs...) }
}

// New returns a summarizer. state is shared with the event bindings.
func New(store *chatmem.Store, h host.Host, gen llm.Generator, settings SettingsSource, state *opstate.State, opts ...Option) *Summarizer {
	s := &Summarizer{
		store:    store,
		host:     h,
		gen:      gen,
		settings: settings,
		state:    state,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestStop asks the active run to stop at its next check.
func (s *Summarizer) RequestStop() {
	if s.state.Summarizing() {
		s.state.RequestStop()
	}
}

// Running reports whether a run is active.
func (s *Summarizer) Running() bool { return s.state.Summarizing() }

// Run summarizes the messages in opts.Range, or every message after the last
// summarized index.
func (s *Summarizer) Run(ctx context.Context, opts RunOptions) Result {
	settings := s.settings.Load()
	if !settings.Enabled {
		return Result{Err: ErrDisabled}
	}
	return s.exclusive(ctx, triggerManual, settings, func(cc *host.ChatContext) ([]window, error) {
		r := chatmem.Range{Start: s.lastSummarized(ctx) + 1, End: cc.LastIndex()}
		if opts.Range != nil {
			r = *opts.Range
			r.Start = max(r.Start, 0)
			r.End = min(r.End, cc.LastIndex())
		}
		return plan(visible(s.host, cc, r), settings), nil
	}, opts.OnProgress)
}

// RunAuto summarizes pending messages when enough have accumulated. The
// newest message is never counted since it may still be swiped. A run needs
// at least SummaryInterval pending messages and one full group; it then
// covers the largest whole number of groups.
func (s *Summarizer) RunAuto(ctx context.Context) Result {
	settings := s.settings.Load()
	if !settings.Enabled || !settings.AutomaticMode {
		return Result{Success: true, Skipped: true}
	}
	cc, err := s.host.Context(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("summarizer: %w", err)}
	}
	start := s.lastSummarized(ctx) + 1
	pending := cc.LastIndex() - start
	size := settings.GroupSize()
	if pending < max(settings.SummaryInterval, 1) || pending < size {
		s.logger.Debug("summarizer: auto run not due", "pending", pending, "interval", settings.SummaryInterval)
		return Result{Success: true, Skipped: true}
	}
	end := start + pending/size*size - 1

	return s.exclusive(ctx, triggerAuto, settings, func(cc *host.ChatContext) ([]window, error) {
		return plan(visible(s.host, cc, chatmem.Range{Start: start, End: end}), settings), nil
	}, nil)
}

// Resummarize re-runs the range index belongs to: the whole group for a
// group head or member, the single message otherwise.
func (s *Summarizer) Resummarize(ctx context.Context, index int) Result {
	settings := s.settings.Load()
	return s.exclusive(ctx, triggerResummarize, settings, func(cc *host.ChatContext) ([]window, error) {
		if index < 0 || index > cc.LastIndex() {
			return nil, fmt.Errorf("summarizer: index %d out of range", index)
		}
		r := chatmem.Range{Start: index, End: index}
		if e, ok := s.store.Summary(ctx, index); ok {
			r = e.Span(index)
		}
		r.End = min(r.End, cc.LastIndex())
		idx := visible(s.host, cc, r)
		if len(idx) == 0 {
			return nil, fmt.Errorf("summarizer: no visible message in %s", r)
		}
		if r.Len() == 1 {
			return []window{{indices: idx}}, nil
		}
		return []window{{indices: idx, groups: []chatmem.Range{r}}}, nil
	}, nil)
}

// ResummarizeGroups re-runs several ranges in one model call. Ranges
// without a visible message or outside the chat are dropped.
func (s *Summarizer) ResummarizeGroups(ctx context.Context, ranges []chatmem.Range) Result {
	settings := s.settings.Load()
	return s.exclusive(ctx, triggerResummarize, settings, func(cc *host.ChatContext) ([]window, error) {
		sorted := slices.Clone(ranges)
		slices.SortFunc(sorted, func(a, b chatmem.Range) int { return a.Start - b.Start })
		var w window
		w.groups = []chatmem.Range{}
		for _, r := range sorted {
			r.End = min(r.End, cc.LastIndex())
			if r.Start < 0 || r.End < r.Start {
				continue
			}
			if len(w.groups) > 0 && w.groups[len(w.groups)-1].Overlaps(r) {
				continue
			}
			idx := visible(s.host, cc, r)
			if len(idx) == 0 {
				continue
			}
			w.groups = append(w.groups, r)
			w.indices = append(w.indices, idx...)
		}
		if len(w.groups) == 0 {
			return nil, nil
		}
		return []window{w}, nil
	}, nil)
}

// lastSummarized is the highest index with a relevant summary, or -1.
func (s *Summarizer) lastSummarized(ctx context.Context) int {
	last := -1
	for i, e := range s.store.RelevantSummaries(ctx) {
		last = max(last, e.Span(i).End)
	}
	return last
}

// exclusive claims the summarizing flag, plans the windows and runs them.
func (s *Summarizer) exclusive(ctx context.Context, trigger string, settings config.Settings,
	planFn func(cc *host.ChatContext) ([]window, error), onProgress func(Progress)) Result {
	if !s.state.TryBeginSummary() {
		return Result{Err: ErrAlreadyRunning}
	}
	defer s.state.EndSummary()

	if s.metrics != nil {
		s.metrics.ActiveRuns.Add(ctx, 1)
		defer s.metrics.ActiveRuns.Add(context.WithoutCancel(ctx), -1)
	}

	ctx, span := observe.StartSpan(ctx, "summarizer.run", trace.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("mode", string(settings.SummaryMode)),
	))
	defer span.End()

	res := s.run(ctx, settings, planFn, onProgress)

	status := "ok"
	switch {
	case errors.Is(res.Err, ErrCancelled):
		status = "cancelled"
	case res.Err != nil:
		status = "error"
		observe.Fail(span, res.Err)
	}
	span.SetAttributes(attribute.Int("processed", res.Processed), attribute.Int("failed", res.Failed))
	if s.metrics != nil {
		s.metrics.RecordRun(context.WithoutCancel(ctx), trigger, status)
	}

	if res.Processed > 0 {
		for _, o := range s.observers {
			o.SummariesChanged(context.WithoutCancel(ctx))
		}
	}
	return res
}

func (s *Summarizer) run(ctx context.Context, settings config.Settings,
	planFn func(cc *host.ChatContext) ([]window, error), onProgress func(Progress)) Result {
	cc, err := s.host.Context(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("summarizer: %w", err)}
	}
	windows, err := planFn(cc)
	if err != nil {
		return Result{Err: err}
	}
	if len(windows) == 0 {
		return Result{Success: true}
	}

	log := s.logger.With("chat_id", cc.ChatID)
	log.Info("summarizer: run started", "windows", len(windows), "from", windows[0].span().Start, "to", windows[len(windows)-1].span().End)
	started := time.Now()

	var res Result
	for i, w := range windows {
		if s.stopped(ctx) {
			res.Err = ErrCancelled
			break
		}
		st, err := s.process(ctx, settings, cc, w)
		res.Processed += st.processed
		res.Failed += st.failed
		res.Incomplete += st.incomplete
		if err != nil {
			res.Err = err
			if !errors.Is(err, ErrCancelled) {
				s.state.Errors().Add("summarizer.window", err)
				log.Warn("summarizer: window failed", "window", i+1, "range", w.span().String(), "err", err)
			}
			break
		}
		res.Windows++
		if onProgress != nil {
			onProgress(Progress{Window: i + 1, Windows: len(windows), Processed: res.Processed, Range: w.span()})
		}
	}
	res.Success = res.Err == nil

	log.Info("summarizer: run finished",
		"processed", res.Processed,
		"failed", res.Failed,
		"incomplete", res.Incomplete,
		"windows", res.Windows,
		"duration", time.Since(started),
		"err", res.Err)
	return res
}

// stopped reports a stop request or a cancelled context.
func (s *Summarizer) stopped(ctx context.Context) bool {
	return s.state.ShouldStop() || ctx.Err() != nil
}
