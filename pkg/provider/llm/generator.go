package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyCompletion is returned when the model answered with no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// GenerateOptions are the per-call knobs of a summary request.
type GenerateOptions struct {
	// MaxTokens caps the completion length. Zero keeps the provider default.
	MaxTokens int

	// Timeout bounds a single call. Zero means no timeout beyond ctx.
	Timeout time.Duration

	// Model optionally names the model the caller expects. Providers are bound
	// to one model at construction, so this is informational and used for
	// logging and metrics.
	Model string
}

// Generator is the text-in/text-out capability the summariser depends on.
// Timeouts are the Generator's concern, not the caller's.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GeneratorFunc adapts a plain function into a Generator.
type GeneratorFunc func(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return f(ctx, prompt, opts)
}

// ProviderGenerator turns a Provider into a Generator.
type ProviderGenerator struct {
	provider     Provider
	systemPrompt string
	temperature  float64
}

// GeneratorOption configures a ProviderGenerator.
type GeneratorOption func(*ProviderGenerator)

// WithSystemPrompt sets the system prompt sent with every request.
func WithSystemPrompt(s string) GeneratorOption {
	return func(g *ProviderGenerator) { g.systemPrompt = s }
}

// WithTemperature sets the sampling temperature. Summaries are factual, so
// the default is 0.3.
func WithTemperature(t float64) GeneratorOption {
	return func(g *ProviderGenerator) { g.temperature = t }
}

// NewGenerator wraps p.
func NewGenerator(p Provider, opts ...GeneratorOption) *ProviderGenerator {
	g := &ProviderGenerator{provider: p, temperature: 0.3}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate implements Generator. The prompt is sent as a single user message.
func (g *ProviderGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	maxTokens := opts.MaxTokens
	if caps := g.provider.Capabilities(); caps.MaxOutputTokens > 0 && maxTokens > caps.MaxOutputTokens {
		maxTokens = caps.MaxOutputTokens
	}

	resp, err := g.provider.Complete(ctx, CompletionRequest{
		SystemPrompt: g.systemPrompt,
		Messages:     []Message{{Role: "user", Content: prompt}},
		Temperature:  g.temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Content, nil
}

var _ Generator = (*ProviderGenerator)(nil)
