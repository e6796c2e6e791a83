package visibility_test

import (
	"context"
	"slices"
	"strconv"
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host/mock"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/visibility"
)

type fixture struct {
	host  *mock.Host
	store *chatmem.Store
	live  *config.Live
	errs  *opstate.ErrorLog
	ctl   *visibility.Controller
}

// newFixture builds a 10-message chat with summaries at 0..7 and message 2
// hidden by the user.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	msgs := mock.NumberedMessages(10)
	msgs[2].Hidden = true
	msgs[2].UserHidden = true

	s := config.DefaultSettings()
	s.AutoHideEnabled = true
	s.PreserveRecentMessages = 3

	f := &fixture{
		host: mock.New("chat-1", msgs...),
		live: config.NewLive(s),
		errs: opstate.NewErrorLog(0),
	}
	f.store = chatmem.NewStore(f.host)
	for i := range 8 {
		f.store.SetSummary(context.Background(), i, "#"+strconv.Itoa(i)+"\n* Scenario: summary")
	}
	f.ctl = visibility.New(f.host, f.store, f.live, visibility.WithErrorLog(f.errs))
	return f
}

func (f *fixture) hidden() []int {
	var out []int
	for i := range 10 {
		if f.host.Message(i).Hidden {
			out = append(out, i)
		}
	}
	return out
}

func TestApply_HidesSummarizedOutsideTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	ch := f.ctl.Apply(ctx)
	if ch.Hidden != 6 || ch.Unhidden != 0 {
		t.Fatalf("Apply = %+v, want 6 hidden", ch)
	}
	want := []int{0, 1, 2, 3, 4, 5, 6}
	if got := f.hidden(); !slices.Equal(got, want) {
		t.Errorf("hidden = %v, want %v", got, want)
	}
	for _, i := range []int{0, 6} {
		if !f.host.Message(i).Flag(visibility.HiddenFlag) {
			t.Errorf("message %d not tagged", i)
		}
	}
	if m := f.host.Message(2); m.Flag(visibility.HiddenFlag) || !m.UserHidden {
		t.Errorf("user-hidden message was touched: %+v", m)
	}

	if ch := f.ctl.Apply(ctx); !ch.Cached {
		t.Errorf("second Apply = %+v, want cached", ch)
	}
}

func TestApply_Reverts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		change func(f *fixture)
		want   []int
	}{
		{
			name: "larger tail",
			change: func(f *fixture) {
				s := f.live.Load()
				s.PreserveRecentMessages = 5
				f.live.Store(s)
			},
			want: []int{0, 1, 2, 3, 4},
		},
		{
			name: "auto hide off",
			change: func(f *fixture) {
				s := f.live.Load()
				s.AutoHideEnabled = false
				f.live.Store(s)
			},
			want: []int{2},
		},
		{
			name:   "summary deleted",
			change: func(f *fixture) { f.store.DeleteSummary(ctx, 4) },
			want:   []int{0, 1, 2, 3, 5, 6},
		},
		{
			name:   "summaries cleared",
			change: func(f *fixture) { f.store.ClearSummaries(ctx) },
			want:   []int{2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.ctl.Apply(ctx)
			tt.change(f)
			f.ctl.Apply(ctx)
			if got := f.hidden(); !slices.Equal(got, tt.want) {
				t.Errorf("hidden = %v, want %v", got, tt.want)
			}
			if !f.host.Message(2).UserHidden {
				t.Error("user hide removed")
			}
		})
	}
}

func TestApply_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.ctl.Apply(ctx)

	// A hand edit the cache cannot see.
	_ = f.host.UpdateMessage(ctx, 0, func(m *host.Message) { m.Hidden = false })
	if ch := f.ctl.Apply(ctx); !ch.Cached {
		t.Fatalf("Apply = %+v, want cached", ch)
	}
	f.ctl.Reset()
	if ch := f.ctl.Apply(ctx); ch.Cached || ch.Hidden != 1 {
		t.Errorf("Apply after Reset = %+v, want 1 hidden", ch)
	}
}

func TestApply_NoChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.host.NoChat = true
	if ch := f.ctl.Apply(context.Background()); ch != (visibility.Changes{}) {
		t.Errorf("Apply = %+v", ch)
	}
	entries := f.errs.Entries()
	if len(entries) != 1 || entries[0].Op != "visibility.context" || entries[0].Message != host.ErrNoChat.Error() {
		t.Errorf("error log = %+v", entries)
	}
}
