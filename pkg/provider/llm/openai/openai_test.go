package openai

import (
	"testing"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/tokenizer"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		role  string
		check func(t *testing.T, m llm.Message)
	}{
		{"system", func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfSystem == nil {
				t.Fatalf("OfSystem not set (err=%v)", err)
			}
		}},
		{"user", func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfUser == nil {
				t.Fatalf("OfUser not set (err=%v)", err)
			}
		}},
		{"assistant", func(t *testing.T, m llm.Message) {
			p, err := convertMessage(m)
			if err != nil || p.OfAssistant == nil {
				t.Fatalf("OfAssistant not set (err=%v)", err)
			}
		}},
		{"wizard", func(t *testing.T, m llm.Message) {
			if _, err := convertMessage(m); err == nil {
				t.Fatal("expected error for unknown role")
			}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			tc.check(t, llm.Message{Role: tc.role, Content: "text"})
		})
	}
}

func TestBuildParams_SystemPromptAndLimits(t *testing.T) {
	p := &Provider{model: "gpt-4o-mini"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Summarise faithfully.",
		Messages:     []llm.Message{{Role: "user", Content: "#0 ..."}},
		Temperature:  0.3,
		MaxTokens:    800,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (system + user)", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("first message should be the system prompt")
	}
	if got := params.MaxCompletionTokens.Value; got != 800 {
		t.Errorf("MaxCompletionTokens = %d, want 800", got)
	}
}

func TestEncodingFor(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":        "o200k_base",
		"GPT-4o-mini":   "o200k_base",
		"o3-mini":       "o200k_base",
		"gpt-4-turbo":   tokenizer.DefaultEncoding,
		"gpt-3.5-turbo": tokenizer.DefaultEncoding,
	}
	for model, want := range tests {
		if got := encodingFor(model); got != want {
			t.Errorf("encodingFor(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		wantWindow int
		wantOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"gpt-3.5-turbo", 16_385, 4_096},
		{"o1-mini", 128_000, 65_536},
		{"o3", 200_000, 100_000},
		{"some-local-model", 128_000, 4_096},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.wantWindow || caps.MaxOutputTokens != tc.wantOutput {
				t.Errorf("caps = %+v, want window %d output %d", caps, tc.wantWindow, tc.wantOutput)
			}
		})
	}
}

// An unknown encoding name makes the tiktoken counter fall back to the
// heuristic without touching the network.
func TestCountTokens_HeuristicFallback(t *testing.T) {
	p := &Provider{model: "gpt-4o", counter: tokenizer.NewTiktoken("no_such_encoding")}
	count, err := p.CountTokens([]llm.Message{{Role: "user", Content: "Hello world!"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	// 12 runes -> 3 tokens, plus 4 overhead.
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	p, err := New("sk-test", "gpt-4o",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
		WithEncoding("cl100k_base"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
	if p.counter == nil {
		t.Error("counter not initialised")
	}
}
