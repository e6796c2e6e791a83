package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(cfg CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cfg})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failing    map[string]bool
		wantCalled []string
		wantErr    error
	}{
		{name: "primary succeeds", wantCalled: []string{"primary"}},
		{name: "primary fails", failing: map[string]bool{"primary": true}, wantCalled: []string{"primary", "secondary"}},
		{name: "all fail", failing: map[string]bool{"primary": true, "secondary": true}, wantCalled: []string{"primary", "secondary"}, wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})
			var called []string
			err := fg.Execute(context.Background(), func(name, v string) error {
				if name != v {
					t.Errorf("name %q does not match value %q", name, v)
				}
				called = append(called, v)
				if tt.failing[v] {
					return errTest
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v, want last failure wrapped", err)
			}
			if len(called) != len(tt.wantCalled) {
				t.Fatalf("called = %v, want %v", called, tt.wantCalled)
			}
			for i := range called {
				if called[i] != tt.wantCalled[i] {
					t.Errorf("called[%d] = %q, want %q", i, called[i], tt.wantCalled[i])
				}
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		_ = fg.Execute(context.Background(), func(_, v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}

	var called []string
	err := fg.Execute(context.Background(), func(_, v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}

	status := fg.Status()
	if len(status) != 2 || status[0].State != StateOpen || status[1].State != StateClosed {
		t.Fatalf("Status() = %+v", status)
	}
}

func TestFallbackGroup_CancellationStopsWalk(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	var called []string
	err := fg.Execute(ctx, func(_, v string) error {
		called = append(called, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Fatal("cancellation must not be reported as ErrAllFailed")
	}
	if len(called) != 1 {
		t.Fatalf("called = %v, want only the primary", called)
	}
	for _, s := range fg.Status() {
		if s.State != StateClosed {
			t.Errorf("breaker %s = %v, want closed", s.Name, s.State)
		}
	}
}

func TestFallbackGroup_AlreadyCancelled(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := ExecuteWithResult(ctx, fg, func(_, _ string) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(context.Background(), fg, func(_ string, v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 40 {
		t.Fatalf("result = %d, want 40", result)
	}
	if fg.Len() != 2 || fg.Primary() != 10 {
		t.Fatalf("Len() = %d, Primary() = %d", fg.Len(), fg.Primary())
	}
}
