// Package observe provides the observability primitives of the summarizer:
// OpenTelemetry metrics, tracing helpers, trace-correlated logging, and HTTP
// middleware for the watch-mode endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped on /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/NovaCaso01/Scenario-Summarizer-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Summarization ---

	// Runs counts finished summarization runs. Use with attributes:
	//   attribute.String("trigger", "manual"|"auto"|"resummarize"),
	//   attribute.String("status", "ok"|"error"|"cancelled")
	Runs metric.Int64Counter

	// ActiveRuns is 1 while a run holds the summarizing flag.
	ActiveRuns metric.Int64UpDownCounter

	// ModelDuration tracks the latency of one model call.
	ModelDuration metric.Float64Histogram

	// EntriesWritten counts stored summary blocks. Use with attribute:
	//   attribute.String("kind", "individual"|"group"|"failed"|"incomplete")
	EntriesWritten metric.Int64Counter

	// ParseFallbacks counts blocks recovered by a non-primary parse strategy.
	// Use with attribute: attribute.String("strategy", ...)
	ParseFallbacks metric.Int64Counter

	// --- Injection ---

	// InjectionTokens tracks the token count of each composed memory block.
	InjectionTokens metric.Int64Histogram

	// InjectionSkipped counts summaries left out of the block by the budget.
	InjectionSkipped metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts model API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts model API errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// CircuitTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("state", ...)
	CircuitTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...),
	//   attribute.String("code", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// calls, which take seconds to minutes.
var latencyBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160,
}

// tokenBuckets covers injected memory sizes.
var tokenBuckets = []float64{
	100, 250, 500, 1000, 2000, 4000, 8000, 16000,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Summarization.
	if met.Runs, err = m.Int64Counter("summarizer.runs",
		metric.WithDescription("Finished summarization runs by trigger and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRuns, err = m.Int64UpDownCounter("summarizer.active_runs",
		metric.WithDescription("Number of summarization runs in progress."),
	); err != nil {
		return nil, err
	}
	if met.ModelDuration, err = m.Float64Histogram("summarizer.model.duration",
		metric.WithDescription("Latency of a single summary model call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EntriesWritten, err = m.Int64Counter("summarizer.entries.written",
		metric.WithDescription("Summary blocks stored by kind."),
	); err != nil {
		return nil, err
	}
	if met.ParseFallbacks, err = m.Int64Counter("summarizer.parse.fallbacks",
		metric.WithDescription("Summary blocks recovered by a fallback parse strategy."),
	); err != nil {
		return nil, err
	}

	// Injection.
	if met.InjectionTokens, err = m.Int64Histogram("summarizer.injection.tokens",
		metric.WithDescription("Token count of the composed memory block."),
		metric.WithExplicitBucketBoundaries(tokenBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InjectionSkipped, err = m.Int64Counter("summarizer.injection.skipped",
		metric.WithDescription("Summaries left out of the memory block by the token budget."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("summarizer.provider.requests",
		metric.WithDescription("Total model API requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("summarizer.provider.errors",
		metric.WithDescription("Total model API errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("summarizer.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and new state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("summarizer.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status code."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(ctx context.Context, trigger, status string) {
	m.Runs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("status", status),
		),
	)
}

// RecordEntry records one stored summary block of the given kind.
func (m *Metrics) RecordEntry(ctx context.Context, kind string) {
	m.EntriesWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordParseFallback records a block recovered by strategy.
func (m *Metrics) RecordParseFallback(ctx context.Context, strategy string) {
	m.ParseFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordProviderRequest records a model request with the standard attribute
// set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a model error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCircuitTransition records a breaker entering state.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, breaker, state string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}
