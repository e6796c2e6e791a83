package summarizer_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	hostmock "github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host/mock"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/summarizer"
	llmmock "github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm/mock"
)

type fixture struct {
	host  *hostmock.Host
	store *chatmem.Store
	gen   *llmmock.Generator
	state *opstate.State
	sum   *summarizer.Summarizer
	seen  atomic.Int32
}

func newFixture(t *testing.T, msgs []host.Message, mutate func(*config.Settings), responses ...string) *fixture {
	t.Helper()
	s := config.DefaultSettings()
	s.SummaryMode = config.ModeIndividual
	s.CharacterTrackingEnabled = true
	if mutate != nil {
		mutate(&s)
	}
	f := &fixture{
		host:  hostmock.New("chat-1", msgs...),
		gen:   &llmmock.Generator{Responses: responses},
		state: opstate.New(),
	}
	f.store = chatmem.NewStore(f.host)
	f.sum = summarizer.New(f.store, f.host, f.gen, config.NewLive(s), f.state,
		summarizer.WithObserver(summarizer.ObserverFunc(func(context.Context) { f.seen.Add(1) })))
	return f
}

func (f *fixture) content(t *testing.T, i int) string {
	t.Helper()
	e, ok := f.store.Summary(context.Background(), i)
	if !ok {
		t.Fatalf("no summary at %d", i)
	}
	return e.Content
}

func rangePtr(s, e int) *chatmem.Range { return &chatmem.Range{Start: s, End: e} }

const s1Reply = "#0\n* Scenario: A greeted B.\n#1\n* Scenario: B replied.\n#2\n* Scenario: They left together."

func TestRun_Individual(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, hostmock.NumberedMessages(3), nil, s1Reply)

	var progress []summarizer.Progress
	res := f.sum.Run(ctx, summarizer.RunOptions{
		Range:      rangePtr(0, 2),
		OnProgress: func(p summarizer.Progress) { progress = append(progress, p) },
	})

	if !res.Success || res.Err != nil {
		t.Fatalf("Run = %+v", res)
	}
	if res.Processed != 3 || res.Windows != 1 || res.Failed != 0 {
		t.Errorf("Run = %+v, want 3 processed in 1 window", res)
	}
	for i, want := range []string{"#0\n", "#1\n", "#2\n"} {
		if c := f.content(t, i); !strings.HasPrefix(c, want) {
			t.Errorf("summary %d = %q, want prefix %q", i, c, want)
		}
	}
	if got := f.store.Memory(ctx).LastSummarizedIndex; got != 2 {
		t.Errorf("LastSummarizedIndex = %d, want 2", got)
	}
	if f.gen.CallCount() != 1 {
		t.Errorf("model calls = %d, want 1", f.gen.CallCount())
	}
	if f.host.PersistCount() == 0 {
		t.Error("store was not persisted")
	}
	if len(progress) != 1 || progress[0].Range != (chatmem.Range{Start: 0, End: 2}) {
		t.Errorf("progress = %+v", progress)
	}
	if f.seen.Load() != 1 {
		t.Errorf("observer calls = %d, want 1", f.seen.Load())
	}
	if f.state.Summarizing() {
		t.Error("summarizing flag left set")
	}
}

func TestRun_BatchGroups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reply := "#0-4\n* Scenario: The first five messages.\n\n#5-9\n* Scenario: The last five messages."
	f := newFixture(t, hostmock.NumberedMessages(10), func(s *config.Settings) {
		s.SummaryMode = config.ModeBatch
		s.BatchGroupSize = 5
		s.BatchSize = 10
	}, reply)

	res := f.sum.Run(ctx, summarizer.RunOptions{})
	if !res.Success || res.Processed != 10 {
		t.Fatalf("Run = %+v", res)
	}
	if !strings.HasPrefix(f.content(t, 0), "#0-4\n* Scenario: The first five") {
		t.Errorf("head 0 = %q", f.content(t, 0))
	}
	if !strings.HasPrefix(f.content(t, 5), "#5-9\n") {
		t.Errorf("head 5 = %q", f.content(t, 5))
	}
	for i := 1; i <= 9; i++ {
		if i == 5 {
			continue
		}
		r := chatmem.Range{Start: 0, End: 4}
		if i > 5 {
			r = chatmem.Range{Start: 5, End: 9}
		}
		if got := f.content(t, i); got != chatmem.Sentinel(r) {
			t.Errorf("member %d = %q, want %q", i, got, chatmem.Sentinel(r))
		}
	}
	prompt := f.gen.Calls[0].Prompt
	if !strings.Contains(prompt, "#0-4, #5-9") {
		t.Error("prompt does not list the required groups")
	}
}

func TestRun_BatchWindowsKeepGroupsWhole(t *testing.T) {
	t.Parallel()
	f := newFixture(t, hostmock.NumberedMessages(9), func(s *config.Settings) {
		s.SummaryMode = config.ModeBatch
		s.BatchGroupSize = 3
		s.BatchSize = 7
	},
		"#0-2\n* Scenario: First group of three.\n#3-5\n* Scenario: Second group of three.",
		"#6-8\n* Scenario: Third group of three.",
	)

	res := f.sum.Run(context.Background(), summarizer.RunOptions{})
	if !res.Success || res.Windows != 2 || res.Processed != 9 {
		t.Fatalf("Run = %+v, want 2 windows covering 9", res)
	}
	if !strings.Contains(f.gen.Calls[0].Prompt, "#0-2, #3-5.") {
		t.Error("first window does not hold two whole groups")
	}
}

func TestRun_Placeholders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, hostmock.NumberedMessages(3), nil,
		"#0\n* Scenario: She began to say \"wait\n#1\n* Scenario: The second message is complete.")

	res := f.sum.Run(ctx, summarizer.RunOptions{Range: rangePtr(0, 2)})
	if !res.Success || res.Processed != 3 || res.Failed != 1 || res.Incomplete != 1 {
		t.Fatalf("Run = %+v", res)
	}

	tests := []struct {
		index   int
		failure chatmem.Failure
	}{
		{0, chatmem.FailureIncomplete},
		{1, chatmem.FailureNone},
		{2, chatmem.FailureParseFailed},
	}
	for _, tt := range tests {
		k := chatmem.ParseKind(f.content(t, tt.index))
		if k.Failure != tt.failure {
			t.Errorf("summary %d failure = %v, want %v", tt.index, k.Failure, tt.failure)
		}
		if k.Range != (chatmem.Range{Start: tt.index, End: tt.index}) {
			t.Errorf("summary %d header range = %v", tt.index, k.Range)
		}
	}
	if got := f.store.FailedRanges(ctx); len(got) != 2 {
		t.Errorf("FailedRanges = %v, want 2", got)
	}
}

func TestRun_Cancellation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, hostmock.NumberedMessages(3), func(s *config.Settings) { s.BatchSize = 1 },
		"#0\n* Scenario: The first message summary.",
		"#1\n* Scenario: The second message summary.",
	)
	f.gen.OnGenerate = func(call int) {
		if call == 2 {
			f.sum.RequestStop()
		}
	}

	res := f.sum.Run(ctx, summarizer.RunOptions{})
	if !errors.Is(res.Err, summarizer.ErrCancelled) || res.Success {
		t.Fatalf("Run = %+v, want cancelled", res)
	}
	if res.Processed != 1 || f.gen.CallCount() != 2 {
		t.Errorf("processed %d with %d calls, want 1 with 2", res.Processed, f.gen.CallCount())
	}
	if _, ok := f.store.Summary(ctx, 1); ok {
		t.Error("reply that arrived after the stop request was stored")
	}
	if f.state.ShouldStop() || f.state.Summarizing() {
		t.Error("flags not cleared after cancelled run")
	}
	if f.state.Errors().Len() != 0 {
		t.Error("cancellation recorded as an error")
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("model error", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(3), nil)
		f.gen.Err = boom
		res := f.sum.Run(ctx, summarizer.RunOptions{})
		if res.Success || !errors.Is(res.Err, boom) {
			t.Fatalf("Run = %+v", res)
		}
		if f.state.Errors().Len() != 1 {
			t.Errorf("error log len = %d, want 1", f.state.Errors().Len())
		}
		if f.seen.Load() != 0 {
			t.Error("observer notified although nothing was written")
		}
	})

	t.Run("later window fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(4), func(s *config.Settings) { s.BatchSize = 2 },
			"#0\n* Scenario: The first message summary.\n#1\n* Scenario: The second message summary.")
		res := f.sum.Run(ctx, summarizer.RunOptions{})
		if res.Success || !errors.Is(res.Err, llmmock.ErrExhausted) {
			t.Fatalf("Run = %+v", res)
		}
		if res.Processed != 2 {
			t.Errorf("Processed = %d, want 2", res.Processed)
		}
		if f.content(t, 1) == "" {
			t.Error("first window was not kept")
		}
		if f.seen.Load() != 1 {
			t.Error("observer not notified for the written window")
		}
	})

	t.Run("already running", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(3), nil)
		f.state.TryBeginSummary()
		if res := f.sum.Run(ctx, summarizer.RunOptions{}); !errors.Is(res.Err, summarizer.ErrAlreadyRunning) {
			t.Fatalf("Run = %+v", res)
		}
		if f.gen.CallCount() != 0 {
			t.Error("model called while another run was active")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(3), func(s *config.Settings) { s.Enabled = false })
		if res := f.sum.Run(ctx, summarizer.RunOptions{}); !errors.Is(res.Err, summarizer.ErrDisabled) {
			t.Fatalf("Run = %+v", res)
		}
	})
}

func TestRun_SkipsUserHidden(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msgs := hostmock.NumberedMessages(3)
	msgs[1].Hidden = true
	msgs[1].UserHidden = true
	f := newFixture(t, msgs, nil,
		"#0\n* Scenario: The first message summary.\n#2\n* Scenario: The third message summary.")

	res := f.sum.Run(ctx, summarizer.RunOptions{})
	if !res.Success || res.Processed != 2 || res.Failed != 0 {
		t.Fatalf("Run = %+v", res)
	}
	if strings.Contains(f.gen.Calls[0].Prompt, "[#1]") {
		t.Error("user-hidden message sent to the model")
	}
	if _, ok := f.store.Summary(ctx, 1); ok {
		t.Error("user-hidden message received a summary")
	}
}

func TestRun_MergesEntities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reply := s1Reply + "\n[CHARACTERS]\nMira | guard | 27 | gatekeeper | Tall | loyal | friendly | N/A\n[/CHARACTERS]"
	f := newFixture(t, hostmock.NumberedMessages(3), nil, reply)

	if res := f.sum.Run(ctx, summarizer.RunOptions{Range: rangePtr(1, 2)}); !res.Success {
		t.Fatalf("Run = %+v", res)
	}
	chars := f.store.RelevantCharacters(ctx)
	if len(chars) != 1 || chars[0].Name != "Mira" {
		t.Fatalf("characters = %+v", chars)
	}
	if fa := chars[0].FirstAppearance; fa == nil || *fa != 1 {
		t.Errorf("firstAppearance = %v, want window start 1", fa)
	}
	if _, ok := f.store.Summary(ctx, 0); ok {
		t.Error("block outside the requested range was stored")
	}
}

func TestRunAuto(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	batch := func(s *config.Settings) {
		s.SummaryMode = config.ModeBatch
		s.BatchGroupSize = 5
		s.BatchSize = 10
		s.SummaryInterval = 10
	}

	t.Run("not due", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(10), batch)
		res := f.sum.RunAuto(ctx)
		if !res.Skipped || f.gen.CallCount() != 0 {
			t.Fatalf("RunAuto = %+v with %d calls", res, f.gen.CallCount())
		}
	})

	t.Run("whole groups only", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(13), batch,
			"#0-4\n* Scenario: The first five messages.\n#5-9\n* Scenario: The next five messages.")
		res := f.sum.RunAuto(ctx)
		if !res.Success || res.Skipped || res.Processed != 10 {
			t.Fatalf("RunAuto = %+v", res)
		}
		if _, ok := f.store.Summary(ctx, 10); ok {
			t.Error("partial group summarized")
		}
	})

	t.Run("automatic mode off", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, hostmock.NumberedMessages(20), func(s *config.Settings) {
			batch(s)
			s.AutomaticMode = false
		})
		if res := f.sum.RunAuto(ctx); !res.Skipped {
			t.Fatalf("RunAuto = %+v", res)
		}
	})
}

func TestResummarize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, hostmock.NumberedMessages(8), nil,
		"#0-4\n* Scenario: The rewritten group summary.",
		"#6\n* Scenario: The rewritten single summary.",
	)
	f.store.SetGroupSummary(ctx, chatmem.Range{Start: 0, End: 4}, "* Scenario: old group")
	f.store.SetSummary(ctx, 6, "#6\n* Scenario: old single")

	if res := f.sum.Resummarize(ctx, 2); !res.Success || res.Processed != 5 {
		t.Fatalf("Resummarize(2) = %+v", res)
	}
	if !strings.Contains(f.gen.Calls[0].Prompt, "with these headers: #0-4.") {
		t.Error("group resummarize did not ask for the group header")
	}
	if got := f.content(t, 0); got != "#0-4\n* Scenario: The rewritten group summary." {
		t.Errorf("head = %q", got)
	}

	if res := f.sum.Resummarize(ctx, 6); !res.Success || res.Processed != 1 {
		t.Fatalf("Resummarize(6) = %+v", res)
	}
	if got := f.content(t, 6); got != "#6\n* Scenario: The rewritten single summary." {
		t.Errorf("single = %q", got)
	}

	if res := f.sum.Resummarize(ctx, 99); res.Err == nil {
		t.Error("Resummarize out of range succeeded")
	}
}

func TestResummarizeGroups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, hostmock.NumberedMessages(10), nil,
		"#0-2\n* Scenario: First rewritten group.\n#5-9\n* Scenario: Second rewritten group.")

	res := f.sum.ResummarizeGroups(ctx, []chatmem.Range{{Start: 5, End: 9}, {Start: 0, End: 2}, {Start: 1, End: 3}})
	if !res.Success || res.Processed != 8 || f.gen.CallCount() != 1 {
		t.Fatalf("ResummarizeGroups = %+v with %d calls", res, f.gen.CallCount())
	}
	if got := f.content(t, 7); got != chatmem.Sentinel(chatmem.Range{Start: 5, End: 9}) {
		t.Errorf("member 7 = %q", got)
	}
}
