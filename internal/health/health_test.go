package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/resilience"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/chatmeta"
)

func ok(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New(failing("metadata", "down")).Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{ok("metadata"), ok("llm")},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"metadata": "ok", "llm": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{failing("metadata", "connection refused"), ok("llm")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"metadata": "fail: connection refused", "llm": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{failing("metadata", "timeout"), failing("llm", "no model")},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"metadata": "fail: timeout", "llm": "fail: no model"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decode(t, rec)
			if body.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tt.wantBody)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %q = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(ok("metadata")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestPingChecker(t *testing.T) {
	t.Parallel()
	store := chatmeta.NewMemStore()
	c := PingChecker("metadata", store)
	if c.Name != "metadata" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	_ = store.Close()
	if err := c.Check(context.Background()); err == nil {
		t.Error("closed store passed the check")
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  []resilience.BreakerStatus
		wantErr bool
	}{
		{name: "no models"},
		{
			name:   "primary closed",
			status: []resilience.BreakerStatus{{Name: "openai", State: resilience.StateClosed}},
		},
		{
			name: "fallback half open",
			status: []resilience.BreakerStatus{
				{Name: "openai", State: resilience.StateOpen},
				{Name: "ollama", State: resilience.StateHalfOpen},
			},
		},
		{
			name: "every circuit open",
			status: []resilience.BreakerStatus{
				{Name: "openai", State: resilience.StateOpen},
				{Name: "ollama", State: resilience.StateOpen},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := BreakerChecker("llm", func() []resilience.BreakerStatus { return tt.status })
			err := c.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrAllCircuitsOpen) {
					t.Errorf("err = %v, want ErrAllCircuitsOpen", err)
				}
				if !strings.Contains(err.Error(), "openai, ollama") {
					t.Errorf("err = %v, want breaker names", err)
				}
			}
		})
	}
}
