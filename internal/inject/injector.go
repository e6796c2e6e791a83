package inject

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/tokenizer"
)

// ExtensionID is the injection id the memory block is registered under.
const ExtensionID = "scenario_summarizer"

// DefaultCacheSize is the number of token counts kept by an [Injector].
const DefaultCacheSize = 1024

// SettingsSource yields the current settings. [*config.Live] implements it.
type SettingsSource interface {
	Load() config.Settings
}

// Injector composes the memory block from the store and pushes it to the
// host. Token counts are cached by content hash; the cache is purged on
// every store write.
type Injector struct {
	host     host.Host
	store    *chatmem.Store
	settings SettingsSource
	counter  *countCache
	composer *Composer
	metrics  *observe.Metrics
	logger   *slog.Logger
	errs     *opstate.ErrorLog
	unwatch  func()

	mu      sync.Mutex
	skipped []int
}

// Option configures an [Injector].
type Option func(*injectorConfig)

type injectorConfig struct {
	counter   tokenizer.Counter
	cacheSize int
	metrics   *observe.Metrics
	logger    *slog.Logger
	errs      *opstate.ErrorLog
}

// WithCounter sets the token counter. Defaults to [tokenizer.Heuristic].
func WithCounter(c tokenizer.Counter) Option {
	return func(cfg *injectorConfig) { cfg.counter = c }
}

// WithCacheSize sets the number of cached token counts.
func WithCacheSize(n int) Option {
	return func(cfg *injectorConfig) { cfg.cacheSize = n }
}

// WithMetrics records block sizes and skipped summaries in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(cfg *injectorConfig) { cfg.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *injectorConfig) { cfg.logger = l }
}

// WithErrorLog records composition and host failures in l.
func WithErrorLog(l *opstate.ErrorLog) Option {
	return func(cfg *injectorConfig) { cfg.errs = l }
}

// NewInjector returns an injector and subscribes its cache to store writes.
// Call [Injector.Close] to remove the subscription.
func NewInjector(h host.Host, store *chatmem.Store, settings SettingsSource, opts ...Option) *Injector {
	cfg := injectorConfig{
		counter:   tokenizer.Heuristic{},
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize <= 0 {
		cfg.cacheSize = DefaultCacheSize
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	cc := newCountCache(cfg.counter, cfg.cacheSize)
	inj := &Injector{
		host:     h,
		store:    store,
		settings: settings,
		counter:  cc,
		composer: NewComposer(cc),
		metrics:  cfg.metrics,
		logger:   cfg.logger,
		errs:     cfg.errs,
	}
	inj.unwatch = store.OnWrite(cc.purge)
	return inj
}

// Close removes the store subscription.
func (i *Injector) Close() {
	if i.unwatch != nil {
		i.unwatch()
	}
}

// Rebuild composes the memory block and hands it to the host. With the
// summarizer disabled, or when composition fails, an empty block is pushed
// so the host drops stale memory. Failures are logged and recorded, never
// returned.
func (i *Injector) Rebuild(ctx context.Context) Output {
	ctx, span := observe.StartSpan(ctx, "inject.rebuild")
	defer span.End()

	settings := i.settings.Load()
	var out Output
	if settings.Enabled {
		var err error
		out, err = i.compose(ctx, settings)
		if err != nil {
			observe.Fail(span, err)
			i.record("compose", err)
			out = Output{}
		}
	}

	i.mu.Lock()
	i.skipped = slices.Clone(out.Skipped)
	i.mu.Unlock()

	if err := i.host.SetInjection(ctx, ExtensionID, out.Text, settings.InjectionPosition, settings.InjectionDepth); err != nil {
		i.record("set injection", err)
	}

	span.SetAttributes(
		attribute.Int("tokens", out.Tokens),
		attribute.Int("included", len(out.Included)),
		attribute.Int("skipped", len(out.Skipped)),
	)
	if i.metrics != nil && out.Text != "" {
		i.metrics.InjectionTokens.Record(ctx, int64(out.Tokens))
		if len(out.Skipped) > 0 {
			i.metrics.InjectionSkipped.Add(ctx, int64(len(out.Skipped)))
		}
	}
	i.logger.Debug("inject: rebuilt memory block",
		"tokens", out.Tokens,
		"budget", settings.TokenBudget,
		"included", len(out.Included),
		"skipped", len(out.Skipped))
	return out
}

// Preview composes the memory block without touching the host.
func (i *Injector) Preview(ctx context.Context) (Output, error) {
	ctx, span := observe.StartSpan(ctx, "inject.preview")
	defer span.End()
	return i.compose(ctx, i.settings.Load())
}

// Skipped returns the message indices the last [Injector.Rebuild] left out.
func (i *Injector) Skipped() []int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.skipped)
}

// SummariesChanged rebuilds the block after a summarization run.
func (i *Injector) SummariesChanged(ctx context.Context) { i.Rebuild(ctx) }

func (i *Injector) compose(ctx context.Context, settings config.Settings) (Output, error) {
	in := Input{
		Summaries: i.store.RelevantSummaries(ctx),
		Legacy:    i.store.LegacySummaries(ctx),
		Budget:    settings.TokenBudget,
	}
	if settings.CharacterTrackingEnabled {
		in.Characters = i.store.RelevantCharacters(ctx)
	}
	if settings.EventTrackingEnabled {
		in.Events = i.store.RelevantEvents(ctx)
	}
	if settings.ItemTrackingEnabled {
		in.Items = i.store.RelevantItems(ctx)
	}
	return i.composer.Compose(ctx, in)
}

func (i *Injector) record(op string, err error) {
	i.logger.Warn("inject: "+op+" failed", "err", err)
	if i.errs != nil {
		i.errs.Add("inject."+op, err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// count cache
// ─────────────────────────────────────────────────────────────────────────────

// countCache memoizes token counts by the xxhash of the text.
type countCache struct {
	inner tokenizer.Counter
	cache *lru.Cache[uint64, int]
}

var (
	_ tokenizer.Counter      = (*countCache)(nil)
	_ tokenizer.MultiCounter = (*countCache)(nil)
)

func newCountCache(inner tokenizer.Counter, size int) *countCache {
	c, _ := lru.New[uint64, int](size)
	return &countCache{inner: inner, cache: c}
}

// Count implements tokenizer.Counter.
func (c *countCache) Count(ctx context.Context, text string) (int, error) {
	key := xxhash.Sum64String(text)
	if n, ok := c.cache.Get(key); ok {
		return n, nil
	}
	n, err := c.inner.Count(ctx, text)
	if err != nil {
		return 0, err
	}
	c.cache.Add(key, n)
	return n, nil
}

// CountEach implements tokenizer.MultiCounter. Uncached parts are counted
// together in one call to the inner counter.
func (c *countCache) CountEach(ctx context.Context, parts []string) ([]int, error) {
	out := make([]int, len(parts))
	keys := make([]uint64, len(parts))
	var missIdx []int
	var missText []string
	for i, p := range parts {
		keys[i] = xxhash.Sum64String(p)
		if n, ok := c.cache.Get(keys[i]); ok {
			out[i] = n
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, p)
	}
	if len(missText) == 0 {
		return out, nil
	}
	counts, err := tokenizer.CountEach(ctx, c.inner, missText)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = counts[j]
		c.cache.Add(keys[i], counts[j])
	}
	return out, nil
}

func (c *countCache) purge() { c.cache.Purge() }

// Len returns the number of cached counts.
func (c *countCache) Len() int { return c.cache.Len() }
