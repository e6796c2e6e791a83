// Package visibility hides summarized messages from the host's own prompt.
//
// A message is hidden when it has a summary and is older than the preserved
// tail of the chat. Every hide the controller makes is tagged with
// [HiddenFlag] in the message's Extra map; only tagged messages are ever
// unhidden again, so a hide the user made by hand survives every pass.
package visibility

import (
	"context"
	"log/slog"
	"sync"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
)

// HiddenFlag is the Extra key marking a hide owned by the controller.
const HiddenFlag = "_summarizedHidden"

// SettingsSource yields the current settings. [*config.Live] implements it.
type SettingsSource interface {
	Load() config.Settings
}

// Changes reports what one [Controller.Apply] pass did.
type Changes struct {
	Hidden   int
	Unhidden int

	// Cached is set when nothing changed since the previous pass and the
	// messages were not inspected.
	Cached bool
}

// applied identifies the inputs of the last pass.
type applied struct {
	chatID   string
	gen      uint64
	messages int
	preserve int
	enabled  bool
}

// Controller keeps message visibility in line with the stored summaries.
type Controller struct {
	host     host.Host
	store    *chatmem.Store
	settings SettingsSource
	logger   *slog.Logger
	errs     *opstate.ErrorLog

	mu   sync.Mutex
	last *applied
}

// Option configures a [Controller].
type Option func(*Controller)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithErrorLog records failed message updates in l.
func WithErrorLog(l *opstate.ErrorLog) Option {
	return func(c *Controller) { c.errs = l }
}

// New returns a controller for h and store.
func New(h host.Host, store *chatmem.Store, settings SettingsSource, opts ...Option) *Controller {
	c := &Controller{
		host:     h,
		store:    store,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply hides summarized messages outside the preserved tail and unhides
// controller-owned hides that no longer qualify. With auto-hide switched off
// every controller-owned hide is reverted. Failures are logged and never
// returned.
func (c *Controller) Apply(ctx context.Context) Changes {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, err := c.host.Context(ctx)
	if err != nil {
		c.record("context", err)
		return Changes{}
	}
	settings := c.settings.Load()
	key := applied{
		chatID:   cc.ChatID,
		gen:      c.store.Generation(),
		messages: len(cc.Messages),
		preserve: settings.PreserveRecentMessages,
		enabled:  settings.AutoHideEnabled,
	}
	if c.last != nil && *c.last == key {
		return Changes{Cached: true}
	}

	summaries := c.store.RelevantSummaries(ctx)
	limit := len(cc.Messages) - max(settings.PreserveRecentMessages, 0)

	var ch Changes
	failed := false
	for i, msg := range cc.Messages {
		if c.host.IsUserHidden(msg) {
			continue
		}
		_, summarized := summaries[i]
		want := settings.AutoHideEnabled && summarized && i < limit
		owned := msg.Flag(HiddenFlag)

		switch {
		case want && !(owned && msg.Hidden):
			if err := c.host.UpdateMessage(ctx, i, hide); err != nil {
				c.record("hide", err)
				failed = true
				continue
			}
			ch.Hidden++
		case !want && owned:
			if err := c.host.UpdateMessage(ctx, i, unhide); err != nil {
				c.record("unhide", err)
				failed = true
				continue
			}
			ch.Unhidden++
		}
	}

	// A failed update is retried on the next pass.
	if failed {
		c.last = nil
	} else {
		c.last = &key
	}
	if ch.Hidden+ch.Unhidden > 0 {
		c.logger.Debug("visibility: applied",
			"chat_id", cc.ChatID,
			"hidden", ch.Hidden,
			"unhidden", ch.Unhidden)
	}
	return ch
}

// Reset forgets the last applied state so the next Apply inspects every
// message. Call it when the host switches chats.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

// SummariesChanged re-applies visibility after a summarization run.
func (c *Controller) SummariesChanged(ctx context.Context) { c.Apply(ctx) }

func hide(m *host.Message) {
	m.Hidden = true
	if m.Extra == nil {
		m.Extra = map[string]any{}
	}
	m.Extra[HiddenFlag] = true
}

func unhide(m *host.Message) {
	m.Hidden = false
	delete(m.Extra, HiddenFlag)
}

func (c *Controller) record(op string, err error) {
	c.logger.Warn("visibility: "+op+" failed", "err", err)
	if c.errs != nil {
		c.errs.Add("visibility."+op, err)
	}
}
