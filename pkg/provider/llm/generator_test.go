package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm/mock"
)

func TestProviderGenerator_SendsSingleUserMessage(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "#0\n* Scenario: ok"},
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 1000},
	}
	g := llm.NewGenerator(p, llm.WithSystemPrompt("sys"))

	out, err := g.Generate(context.Background(), "prompt body", llm.GenerateOptions{MaxTokens: 5000})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "#0\n* Scenario: ok" {
		t.Errorf("out = %q", out)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("CompleteCalls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.SystemPrompt != "sys" {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || req.Messages[0].Content != "prompt body" {
		t.Errorf("Messages = %+v", req.Messages)
	}
	if req.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %d, want clamp to 1000", req.MaxTokens)
	}
}

func TestProviderGenerator_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	tests := []struct {
		name    string
		p       *mock.Provider
		wantErr error
	}{
		{name: "provider error", p: &mock.Provider{CompleteErr: boom}, wantErr: boom},
		{name: "nil response", p: &mock.Provider{}, wantErr: llm.ErrEmptyCompletion},
		{name: "blank content", p: &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  \n"}}, wantErr: llm.ErrEmptyCompletion},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			g := llm.NewGenerator(tc.p)
			_, err := g.Generate(context.Background(), "x", llm.GenerateOptions{})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestProviderGenerator_AppliesTimeout(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	g := llm.NewGenerator(p)

	if _, err := g.Generate(context.Background(), "x", llm.GenerateOptions{Timeout: time.Minute}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, ok := p.CompleteCalls[0].Ctx.Deadline(); !ok {
		t.Error("expected a deadline on the provider context")
	}
}
