package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across the configured
// summary models. Each model has its own circuit breaker.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallbackOption configures an [LLMFallback].
type LLMFallbackOption func(*LLMFallback)

// WithMetrics records provider requests, errors and latency on m.
func WithMetrics(m *observe.Metrics) LLMFallbackOption {
	return func(f *LLMFallback) { f.metrics = m }
}

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// model. When metrics are configured and cfg has no OnTransition hook,
// breaker transitions are recorded as summarizer.circuit.transitions.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, opts ...LLMFallbackOption) *LLMFallback {
	f := &LLMFallback{}
	for _, o := range opts {
		o(f)
	}
	if f.metrics != nil && cfg.CircuitBreaker.OnTransition == nil {
		m := f.metrics
		cfg.CircuitBreaker.OnTransition = func(name string, _, to State) {
			m.RecordCircuitTransition(context.Background(), name, to.String())
		}
	}
	f.group = NewFallbackGroup(primary, primaryName, cfg)
	return f
}

// AddFallback registers another model tried after those already added.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every model, primary first.
func (f *LLMFallback) Status() []BreakerStatus {
	return f.group.Status()
}

// Complete sends req to the first healthy model.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p llm.Provider) (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := p.Complete(ctx, req)
		f.record(ctx, name, start, err)
		return resp, err
	})
}

// CountTokens asks the first healthy model to count.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.group, func(_ string, p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the primary's capabilities. Capabilities are static,
// so they take no part in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}

func (f *LLMFallback) record(ctx context.Context, name string, start time.Time, err error) {
	if f.metrics == nil {
		return
	}
	f.metrics.ModelDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", name)))
	switch {
	case err == nil:
		f.metrics.RecordProviderRequest(ctx, name, "ok")
	case errors.Is(err, context.Canceled):
		f.metrics.RecordProviderRequest(ctx, name, "cancelled")
	default:
		f.metrics.RecordProviderRequest(ctx, name, "error")
		f.metrics.RecordProviderError(ctx, name)
	}
}
