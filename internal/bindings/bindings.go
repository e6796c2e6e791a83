// Package bindings connects host lifecycle events to the summarizer, the
// visibility controller and the injector.
//
// Handlers run on the publisher's goroutine and return quickly. Automatic
// summaries run in the background; at most one runs at a time because the
// summarizer claims the shared [opstate.State] flag. Each automatic attempt
// is skipped while the host is generating, while the chat-switch cooldown is
// open, or while another run is active.
package bindings

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/inject"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/summarizer"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/visibility"
)

// AutoRunner starts an automatic summary. [*summarizer.Summarizer]
// implements it.
type AutoRunner interface {
	RunAuto(ctx context.Context) summarizer.Result
}

// Rebuilder refreshes the injected memory block. [*inject.Injector]
// implements it.
type Rebuilder interface {
	Rebuild(ctx context.Context) inject.Output
}

// Visibility keeps message visibility in line with the summaries.
// [*visibility.Controller] implements it.
type Visibility interface {
	Apply(ctx context.Context) visibility.Changes
	Reset()
}

// SettingsSource yields the current settings. [*config.Live] implements it.
type SettingsSource interface {
	Load() config.Settings
}

// Bindings subscribes the pipeline to a host's events.
type Bindings struct {
	host     host.Host
	store    *chatmem.Store
	state    *opstate.State
	settings SettingsSource
	auto     AutoRunner
	inj      Rebuilder
	vis      Visibility
	logger   *slog.Logger

	// ctx outlives single events; Detach cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	unsubs   []func()
	deferred *time.Timer
	// detached is set once by Detach; no background work is scheduled
	// after it.
	detached bool
}

// Option configures [Bindings].
type Option func(*Bindings)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bindings) {
		if l != nil {
			b.logger = l
		}
	}
}

// New returns unattached bindings.
func New(h host.Host, store *chatmem.Store, state *opstate.State, settings SettingsSource,
	auto AutoRunner, inj Rebuilder, vis Visibility, opts ...Option) *Bindings {
	b := &Bindings{
		host:     h,
		store:    store,
		state:    state,
		settings: settings,
		auto:     auto,
		inj:      inj,
		vis:      vis,
		logger:   slog.Default(),
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach subscribes every handler. Calling it twice, or after Detach, has no
// effect.
func (b *Bindings) Attach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached || len(b.unsubs) > 0 {
		return
	}
	for ev, h := range map[host.Event]host.Handler{
		host.EventChatChanged:       b.onChatChanged,
		host.EventMessageReceived:   b.onMessageReceived,
		host.EventGenerationStarted: b.onGenerationStarted,
		host.EventGenerationEnded:   b.onGenerationEnded,
		host.EventMessageSwiped:     b.onMessageSwiped,
		host.EventMessageDeleted:    b.onMessageDeleted,
		host.EventBeforeGeneration:  b.onBeforeGeneration,
	} {
		b.unsubs = append(b.unsubs, b.host.On(ev, h))
	}
}

// Detach removes every handler, cancels background runs and waits for them
// to return.
func (b *Bindings) Detach() {
	b.mu.Lock()
	b.detached = true
	for _, off := range b.unsubs {
		off()
	}
	b.unsubs = nil
	b.stopDeferredLocked()
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

// Wait blocks until scheduled and running background work has finished.
func (b *Bindings) Wait() { b.wg.Wait() }

// ── handlers ─────────────────────────────────────────────────────────────────

func (b *Bindings) onChatChanged(ctx context.Context, p host.Payload) {
	settings := b.settings.Load()
	b.state.StartCooldown(settings.ChatLoadingCooldown)

	b.mu.Lock()
	b.stopDeferredLocked()
	b.mu.Unlock()

	if _, err := b.store.Reload(ctx); err != nil {
		b.logger.Warn("bindings: reload on chat change failed", "chat_id", p.ChatID, "err", err)
	}
	b.vis.Reset()
	b.vis.Apply(ctx)
	b.inj.Rebuild(ctx)
}

func (b *Bindings) onMessageReceived(_ context.Context, p host.Payload) {
	b.tryAuto(p.Event)
}

func (b *Bindings) onGenerationStarted(context.Context, host.Payload) {
	b.state.SetGenerating(true)
	b.mu.Lock()
	b.stopDeferredLocked()
	b.mu.Unlock()
}

func (b *Bindings) onGenerationEnded(_ context.Context, p host.Payload) {
	b.state.SetGenerating(false)
	delay := b.settings.Load().GenerationEndDelay

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopDeferredLocked()
	if b.detached {
		return
	}
	b.wg.Add(1)
	b.deferred = time.AfterFunc(delay, func() {
		defer b.wg.Done()
		b.tryAuto(p.Event)
	})
}

func (b *Bindings) onMessageSwiped(ctx context.Context, p host.Payload) {
	if b.store.InvalidateOnSwipe(ctx, p.Index) {
		b.save(ctx, "swipe")
	}
	b.inj.Rebuild(ctx)
}

func (b *Bindings) onMessageDeleted(ctx context.Context, p host.Payload) {
	b.store.RemapAfterDeletion(ctx, p.Index)
	b.save(ctx, "delete")
	b.vis.Apply(ctx)
	b.inj.Rebuild(ctx)
}

func (b *Bindings) onBeforeGeneration(ctx context.Context, _ host.Payload) {
	b.inj.Rebuild(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// stopDeferredLocked cancels a pending post-generation check. b.mu must be
// held.
func (b *Bindings) stopDeferredLocked() {
	if b.deferred != nil && b.deferred.Stop() {
		b.wg.Done()
	}
	b.deferred = nil
}

// tryAuto starts an automatic run in the background unless a guard
// forbids it.
func (b *Bindings) tryAuto(trigger host.Event) {
	settings := b.settings.Load()
	switch {
	case !settings.Enabled || !settings.AutomaticMode:
		return
	case b.state.CoolingDown():
		b.logger.Debug("bindings: auto summary skipped", "trigger", trigger, "reason", "cooldown")
		return
	case b.state.Generating():
		b.logger.Debug("bindings: auto summary skipped", "trigger", trigger, "reason", "generating")
		return
	case b.state.Summarizing():
		b.logger.Debug("bindings: auto summary skipped", "trigger", trigger, "reason", "running")
		return
	}
	b.mu.Lock()
	if b.detached || b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		res := b.auto.RunAuto(b.ctx)
		switch {
		case res.Err == nil:
			if !res.Skipped {
				b.logger.Info("bindings: auto summary finished", "trigger", trigger, "processed", res.Processed)
			}
		case errors.Is(res.Err, summarizer.ErrAlreadyRunning), errors.Is(res.Err, summarizer.ErrCancelled):
		default:
			b.logger.Warn("bindings: auto summary failed", "trigger", trigger, "err", res.Err)
		}
	}()
}

func (b *Bindings) save(ctx context.Context, op string) {
	if err := b.store.Save(ctx); err != nil {
		b.logger.Warn("bindings: save after "+op+" failed", "err", err)
	}
}
