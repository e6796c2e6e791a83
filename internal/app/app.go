// Package app wires the summarizer's components into a running application.
//
// The App struct owns the full lifecycle: New builds and connects every
// component from a [config.Config], Run drives watch mode, and Shutdown
// releases the metadata backend and subscriptions in order.
//
// For testing, inject doubles via functional options (WithHost,
// WithMetaStore, WithGenerator, ...). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/bindings"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/health"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/inject"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/resilience"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/summarizer"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/visibility"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta/postgres"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta/sqlite"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/tokenizer"
)

// ErrNoChat is returned by [New] when neither a host nor a chat file was
// given.
var ErrNoChat = errors.New("app: no chat: pass WithHost or WithChatFile")

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 5 * time.Second

// App owns every component lifetime for one chat.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Injected or built in New.
	meta       chatmeta.Store
	host       host.Host
	fileHost   *host.FileHost
	chatFile   string
	hostOpts   []host.FileHostOption
	registry   *config.Registry
	provider   llm.Provider
	fallback   *resilience.LLMFallback
	gen        llm.Generator
	counter    tokenizer.Counter
	metrics    *observe.Metrics
	configPath string
	level      *slog.LevelVar

	state    *opstate.State
	live     *config.Live
	store    *chatmem.Store
	vis      *visibility.Controller
	inj      *inject.Injector
	sum      *summarizer.Summarizer
	bindings *bindings.Bindings
	health   *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetaStore injects a metadata store instead of opening the configured
// backend. The caller keeps ownership; Shutdown does not close it.
func WithMetaStore(s chatmeta.Store) Option {
	return func(a *App) { a.meta = s }
}

// WithHost injects a host instead of opening a chat file.
func WithHost(h host.Host) Option {
	return func(a *App) { a.host = h }
}

// WithChatFile opens the JSONL chat at path as the host.
func WithChatFile(path string, opts ...host.FileHostOption) Option {
	return func(a *App) {
		a.chatFile = path
		a.hostOpts = opts
	}
}

// WithRegistry supplies the provider factories used to build the model
// chain.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithProvider injects the primary model instead of building it from the
// registry. Configured fallbacks are still added behind it.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithGenerator injects the summary client, bypassing the provider chain.
func WithGenerator(g llm.Generator) Option {
	return func(a *App) { a.gen = g }
}

// WithCounter injects the token counter instead of the configured kind.
func WithCounter(c tokenizer.Counter) Option {
	return func(a *App) { a.counter = c }
}

// WithMetrics records runs, model calls and injection sizes in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel lets a settings reload change the log level.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch makes Run hot-reload summarizer settings from path.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all components together. It connects the
// metadata backend, reads the chat and loads its summary memory, but does
// not subscribe to host events; Run does that.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	// ── 1. Metadata backend ──────────────────────────────────────────────
	if err := a.initMeta(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init metadata: %w", err))
	}

	// ── 2. Host ──────────────────────────────────────────────────────────
	if err := a.initHost(ctx); err != nil {
		return nil, a.abort(fmt.Errorf("app: init host: %w", err))
	}

	// ── 3. Summary model ─────────────────────────────────────────────────
	if err := a.initModel(); err != nil {
		return nil, a.abort(fmt.Errorf("app: init model: %w", err))
	}

	// ── 4. Token counter ─────────────────────────────────────────────────
	a.initCounter()

	// ── 5. Shared state and memory store ─────────────────────────────────
	a.state = opstate.New()
	a.live = config.NewLive(cfg.Summarizer)
	a.store = chatmem.NewStore(a.host,
		chatmem.WithLogger(a.logger),
		chatmem.WithErrorLog(a.state.Errors()))
	if report, err := a.store.Reload(ctx); err != nil {
		a.logger.Warn("app: chat memory not loaded", "err", err)
	} else if len(report.Dropped) > 0 {
		a.logger.Warn("app: chat memory migrated with losses", "dropped", len(report.Dropped))
	}

	// ── 6. Pipeline ──────────────────────────────────────────────────────
	a.vis = visibility.New(a.host, a.store, a.live,
		visibility.WithLogger(a.logger),
		visibility.WithErrorLog(a.state.Errors()))
	a.inj = inject.NewInjector(a.host, a.store, a.live,
		inject.WithCounter(a.counter),
		inject.WithMetrics(a.metrics),
		inject.WithLogger(a.logger),
		inject.WithErrorLog(a.state.Errors()))
	a.closers = append(a.closers, func() error {
		a.inj.Close()
		return nil
	})
	a.sum = summarizer.New(a.store, a.host, a.gen, a.live, a.state,
		summarizer.WithLogger(a.logger),
		summarizer.WithMetrics(a.metrics),
		summarizer.WithObserver(a.vis, a.inj))

	// ── 7. Event bindings and probes ─────────────────────────────────────
	a.bindings = bindings.New(a.host, a.store, a.state, a.live, a.sum, a.inj, a.vis,
		bindings.WithLogger(a.logger))
	a.health = health.New(a.checkers()...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMeta opens the configured backend unless one was injected.
func (a *App) initMeta(ctx context.Context) error {
	if a.meta != nil {
		return nil
	}

	var (
		store chatmeta.Store
		err   error
	)
	switch sc := a.cfg.Storage; sc.Backend {
	case config.StorageMemory, "":
		store = chatmeta.NewMemStore()
	case config.StorageSQLite:
		store, err = sqlite.Open(sc.SQLitePath)
	case config.StoragePostgres:
		if sc.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres backend")
		}
		store, err = postgres.NewStore(ctx, sc.PostgresDSN)
	default:
		return fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	if err != nil {
		return err
	}

	a.meta = store
	a.closers = append(a.closers, store.Close)
	a.logger.Info("metadata backend ready", "backend", a.cfg.Storage.Backend)
	return nil
}

// initHost opens the chat file unless a host was injected.
func (a *App) initHost(ctx context.Context) error {
	if a.host != nil {
		return nil
	}
	if a.chatFile == "" {
		return ErrNoChat
	}
	opts := append([]host.FileHostOption{host.WithFileHostLogger(a.logger)}, a.hostOpts...)
	fh, err := host.NewFileHost(ctx, a.chatFile, a.meta, opts...)
	if err != nil {
		return err
	}
	a.fileHost = fh
	a.host = fh
	a.logger.Info("chat opened", "path", a.chatFile, "chat_id", fh.ChatID())
	return nil
}

// initModel builds primary model → fallbacks → generator. An injected
// generator skips the chain entirely.
func (a *App) initModel() error {
	if a.gen != nil {
		return nil
	}

	pc := a.cfg.Providers
	if a.provider == nil {
		if a.registry == nil {
			return errors.New("no provider registry configured")
		}
		if pc.LLM.Name == "" {
			return errors.New("providers.llm.name is required")
		}
		p, err := a.registry.CreateLLM(pc.LLM)
		if err != nil {
			return err
		}
		a.provider = p
	}

	var fbOpts []resilience.LLMFallbackOption
	if a.metrics != nil {
		fbOpts = append(fbOpts, resilience.WithMetrics(a.metrics))
	}
	a.fallback = resilience.NewLLMFallback(a.provider, modelName(pc.LLM), resilience.FallbackConfig{}, fbOpts...)
	for _, entry := range pc.Fallbacks {
		if a.registry == nil {
			break
		}
		p, err := a.registry.CreateLLM(entry)
		if err != nil {
			return fmt.Errorf("fallback %q: %w", entry.Name, err)
		}
		a.fallback.AddFallback(modelName(entry), p)
		a.logger.Info("fallback model added", "name", entry.Name, "model", entry.Model)
	}
	a.gen = llm.NewGenerator(a.fallback)
	return nil
}

// initCounter picks the token counter for the injection budget.
func (a *App) initCounter() {
	if a.counter != nil {
		return
	}
	switch a.cfg.Tokenizer.Kind {
	case config.TokenizerTiktoken:
		a.counter = tokenizer.NewTiktoken(a.cfg.Tokenizer.Encoding)
	case config.TokenizerProvider:
		if a.fallback != nil {
			a.counter = tokenizer.ProviderCounter{Provider: a.fallback}
			return
		}
		a.logger.Warn("app: provider tokenizer needs a provider chain, using the heuristic")
		a.counter = tokenizer.Heuristic{}
	default:
		a.counter = tokenizer.Heuristic{}
	}
}

func (a *App) checkers() []health.Checker {
	cs := []health.Checker{health.PingChecker("metadata", a.meta)}
	if a.fallback != nil {
		cs = append(cs, health.BreakerChecker("llm", a.fallback.Status))
	}
	return cs
}

// abort releases whatever New had opened before failing.
func (a *App) abort(err error) error {
	for _, c := range a.closers {
		if cerr := c(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	a.closers = nil
	return err
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Host returns the chat host.
func (a *App) Host() host.Host { return a.host }

// Store returns the chat memory store.
func (a *App) Store() *chatmem.Store { return a.store }

// Summarizer returns the pipeline orchestrator.
func (a *App) Summarizer() *summarizer.Summarizer { return a.sum }

// Injector returns the memory block injector.
func (a *App) Injector() *inject.Injector { return a.inj }

// Visibility returns the auto-hide controller.
func (a *App) Visibility() *visibility.Controller { return a.vis }

// State returns the shared operation state.
func (a *App) State() *opstate.State { return a.state }

// Settings returns the live summarizer settings.
func (a *App) Settings() *config.Live { return a.live }

// Models reports the breaker state of every configured model. It is empty
// when the generator was injected.
func (a *App) Models() []resilience.BreakerStatus {
	if a.fallback == nil {
		return nil
	}
	return a.fallback.Status()
}

// Refresh brings visibility and the injected block in line with the store.
// CLI commands call it after editing summaries.
func (a *App) Refresh(ctx context.Context) {
	a.vis.Apply(ctx)
	a.inj.Rebuild(ctx)
}

// Handler returns the watch-mode HTTP routes: /healthz, /readyz and
// /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.metrics != nil {
		return observe.Middleware(a.metrics)(mux)
	}
	return mux
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run subscribes the pipeline to host events and blocks until ctx is
// cancelled or a watcher fails. With a chat file it follows the file; with a
// config watch it hot-reloads settings; with a listen address it serves
// [App.Handler].
func (a *App) Run(ctx context.Context) error {
	a.bindings.Attach()
	defer a.bindings.Detach()

	g, gctx := errgroup.WithContext(ctx)

	// ── Chat file ────────────────────────────────────────────────────────
	if a.fileHost != nil {
		g.Go(func() error { return a.fileHost.Watch(gctx) })
	} else {
		a.Refresh(gctx)
	}

	// ── Settings hot reload ──────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange, config.WithWatcherLogger(a.logger))
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	// ── HTTP probes and metrics ──────────────────────────────────────────
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			a.logger.Info("http listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	a.logger.Info("app running", "chat_file", a.chatFile, "listen_addr", a.cfg.Server.ListenAddr)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// onConfigChange swaps in new summarizer settings and the log level.
// Provider, storage and listener changes need a restart and are only logged.
func (a *App) onConfigChange(old, next *config.Config) {
	d := config.Diff(old, next)
	if len(d.SettingsChanged) > 0 {
		a.live.Store(next.Summarizer)
		a.logger.Info("settings reloaded", "changed", d.SettingsChanged)
		a.Refresh(context.Background())
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelOf(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RestartRequired {
		a.logger.Warn("config change needs a restart to take effect")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases every owned resource in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		a.bindings.Detach()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// modelName labels a provider entry in breaker status and metrics.
func modelName(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// LevelOf maps a configured log level to slog.
func LevelOf(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
