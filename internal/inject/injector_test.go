package inject_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host/mock"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/inject"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/tokenizer"
)

// recordingCounter counts calls to the heuristic.
type recordingCounter struct {
	calls atomic.Int32
}

func (r *recordingCounter) Count(ctx context.Context, text string) (int, error) {
	r.calls.Add(1)
	return tokenizer.Heuristic{}.Count(ctx, text)
}

type injectorFixture struct {
	host    *mock.Host
	store   *chatmem.Store
	live    *config.Live
	counter *recordingCounter
	errs    *opstate.ErrorLog
	inj     *inject.Injector
}

func newInjectorFixture(t *testing.T) *injectorFixture {
	t.Helper()
	ctx := context.Background()
	s := config.DefaultSettings()
	s.InjectionPosition = config.PositionBeforeMain
	s.InjectionDepth = 2

	f := &injectorFixture{
		host:    mock.New("chat-1", mock.NumberedMessages(6)...),
		live:    config.NewLive(s),
		counter: &recordingCounter{},
		errs:    opstate.NewErrorLog(0),
	}
	f.store = chatmem.NewStore(f.host)
	f.store.SetSummary(ctx, 0, "#0\n* Scenario: They met at the gate.")
	f.store.SetSummary(ctx, 1, "#1\n* Scenario: They walked to the inn.")
	f.inj = inject.NewInjector(f.host, f.store, f.live,
		inject.WithCounter(f.counter),
		inject.WithErrorLog(f.errs))
	t.Cleanup(f.inj.Close)
	return f
}

func TestInjector_Rebuild(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInjectorFixture(t)

	out := f.inj.Rebuild(ctx)
	got, ok := f.host.LastInjection()
	if !ok {
		t.Fatal("nothing injected")
	}
	want := mock.Injection{
		ID:       inject.ExtensionID,
		Content:  out.Text,
		Position: config.PositionBeforeMain,
		Depth:    2,
	}
	if got != want {
		t.Errorf("injection = %+v, want %+v", got, want)
	}
	if out.Text == "" || out.Tokens == 0 || len(out.Included) != 2 {
		t.Errorf("Rebuild = %+v", out)
	}

	f.inj.SummariesChanged(ctx)
	if n := len(f.host.Injections()); n != 2 {
		t.Errorf("injections = %d, want 2", n)
	}
}

func TestInjector_SkippedAndDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInjectorFixture(t)

	s := f.live.Load()
	s.TokenBudget = 50
	f.live.Store(s)
	f.inj.Rebuild(ctx)
	if got := f.inj.Skipped(); len(got) != 1 || got[0] != 0 {
		t.Errorf("Skipped = %v, want [0]", got)
	}

	s.Enabled = false
	f.live.Store(s)
	f.inj.Rebuild(ctx)
	if got, _ := f.host.LastInjection(); got.Content != "" {
		t.Errorf("disabled injection = %q, want empty", got.Content)
	}
	if len(f.inj.Skipped()) != 0 {
		t.Error("skipped set survived a disabled rebuild")
	}
}

func TestInjector_HostFailureIsRecorded(t *testing.T) {
	t.Parallel()
	f := newInjectorFixture(t)
	f.host.InjectionErr = errors.New("hook gone")

	out := f.inj.Rebuild(context.Background())
	if out.Text == "" {
		t.Error("composition discarded on host failure")
	}
	entries := f.errs.Entries()
	if len(entries) != 1 || entries[0].Op != "inject.set injection" {
		t.Errorf("error log = %+v", entries)
	}
}

func TestInjector_CountCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInjectorFixture(t)

	first, err := f.inj.Preview(ctx)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	calls := f.counter.calls.Load()
	if calls == 0 {
		t.Fatal("counter never called")
	}

	second, _ := f.inj.Preview(ctx)
	if f.counter.calls.Load() != calls {
		t.Errorf("counter calls = %d after cached preview, want %d", f.counter.calls.Load(), calls)
	}
	if second.Text != first.Text || second.Tokens != first.Tokens {
		t.Error("cached preview differs")
	}
	if len(f.host.Injections()) != 0 {
		t.Error("preview pushed to the host")
	}

	// A write purges the cache, so even unchanged parts are counted again.
	f.store.SetPinned(ctx, 0, true)
	if _, err := f.inj.Preview(ctx); err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if f.counter.calls.Load() == calls {
		t.Error("cache not purged after a store write")
	}
}
