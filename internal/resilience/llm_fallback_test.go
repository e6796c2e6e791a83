package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
	llmmock "github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		primaryErr  error
		secondErr   error
		wantContent string
		wantErr     error
	}{
		{name: "primary answers", wantContent: "#0\nfrom primary"},
		{name: "failover", primaryErr: errors.New("primary down"), wantContent: "#0\nfrom secondary"},
		{name: "all fail", primaryErr: errors.New("primary down"), secondErr: errors.New("secondary down"), wantErr: ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "#0\nfrom primary"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "#0\nfrom secondary"},
				CompleteErr:      tt.secondErr,
			}
			fb := NewLLMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			fb.AddFallback("secondary", secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if resp.Content != tt.wantContent {
				t.Fatalf("content = %q, want %q", resp.Content, tt.wantContent)
			}
		})
	}
}

func TestLLMFallback_CountTokensAndCapabilities(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{
		CountTokensErr:    errors.New("count failed"),
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000, MaxOutputTokens: 4096},
	}
	secondary := &llmmock.Provider{TokenCount: 42}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	fb.AddFallback("secondary", secondary)

	count, err := fb.CountTokens([]llm.Message{{Role: "user", Content: "test"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Fatalf("count = %d, want 42", count)
	}
	if caps := fb.Capabilities(); caps.ContextWindow != 128000 || caps.MaxOutputTokens != 4096 {
		t.Fatalf("Capabilities() = %+v", caps)
	}
}

func TestLLMFallback_AsGenerator(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "#3\n* Scenario: ok"}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	gen := llm.NewGenerator(fb)
	out, err := gen.Generate(context.Background(), "prompt", llm.GenerateOptions{MaxTokens: 100, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "#3\n* Scenario: ok" {
		t.Fatalf("Generate = %q", out)
	}
	if len(primary.CompleteCalls) != 1 || len(secondary.CompleteCalls) != 1 {
		t.Fatalf("calls primary=%d secondary=%d, want 1 and 1", len(primary.CompleteCalls), len(secondary.CompleteCalls))
	}
}

func TestLLMFallback_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}, WithMetrics(m))
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				got[md.Name] += dp.Value
			}
		}
	}
	want := map[string]int64{
		"summarizer.provider.requests":   2,
		"summarizer.provider.errors":     1,
		"summarizer.circuit.transitions": 1,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %d, want %d", name, got[name], v)
		}
	}
	if st := fb.Status(); st[0].State != StateOpen {
		t.Errorf("primary breaker = %v, want open", st[0].State)
	}
}
