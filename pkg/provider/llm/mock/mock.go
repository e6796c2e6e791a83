// Package mock provides test doubles for the llm.Provider and llm.Generator
// interfaces.
//
// Provider feeds controlled completions without a live backend. Generator
// replays a queue of canned summary texts, which is what most pipeline tests
// want. Both record every call for later inspection.
//
// Example:
//
//	g := &mock.Generator{Responses: []string{"#0\n* Scenario: A greeted B."}}
//	text, err := g.Generate(ctx, prompt, llm.GenerateOptions{})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// CountTokensErr, if non-nil, is returned as the error from CountTokens.
	CountTokensErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// CountTokensCalls records the messages passed to CountTokens.
	CountTokensCalls [][]llm.Message
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens records the call and returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)
	p.CountTokensCalls = append(p.CountTokensCalls, msgs)
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CountTokensCalls = nil
}

// ErrExhausted is returned by Generator when its response queue is empty.
var ErrExhausted = errors.New("mock: no more responses")

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	Prompt string
	Opts   llm.GenerateOptions
}

// Generator is a mock llm.Generator that pops Responses in order.
type Generator struct {
	mu sync.Mutex

	// Responses are returned one per call, in order.
	Responses []string

	// Err, if non-nil, is returned from every call instead of a response.
	Err error

	// OnGenerate, if set, runs before the response is returned. Tests use it
	// to flip cancellation flags while a call is "in flight".
	OnGenerate func(call int)

	// Calls records every invocation in order.
	Calls []GenerateCall
}

// Generate implements llm.Generator.
func (g *Generator) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	g.mu.Lock()
	g.Calls = append(g.Calls, GenerateCall{Prompt: prompt, Opts: opts})
	n := len(g.Calls)
	hook := g.OnGenerate
	g.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	if len(g.Responses) == 0 {
		return "", ErrExhausted
	}
	out := g.Responses[0]
	g.Responses = g.Responses[1:]
	return out, nil
}

// CallCount returns the number of Generate calls so far.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

var (
	_ llm.Provider  = (*Provider)(nil)
	_ llm.Generator = (*Generator)(nil)
)
