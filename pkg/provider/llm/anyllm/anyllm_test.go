package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage(t *testing.T) {
	for _, role := range []string{"system", "user", "assistant"} {
		t.Run(role, func(t *testing.T) {
			got := convertMessage(llm.Message{Role: role, Content: "hello", Name: "Mira"})
			if got.Role != role {
				t.Errorf("role = %q, want %q", got.Role, role)
			}
			if got.ContentString() != "hello" {
				t.Errorf("content = %q", got.ContentString())
			}
			if got.Name != "Mira" {
				t.Errorf("name = %q", got.Name)
			}
		})
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     []llm.Message{{Role: "user", Content: "prompt"}},
		Temperature:  0.3,
		MaxTokens:    512,
	})
	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero temperature and max tokens should stay unset")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		wantWindow int
		wantOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"o1", 200_000, 100_000},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"GEMINI-PRO", 128_000, 8_192},
		{"llama3.1", 128_000, 4_096},
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

// ── constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "m", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name  string
		model string
		opts  []anyllmlib.Option
	}{
		{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", "claude-3-5-sonnet-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.name, tc.model, tc.opts...)
			if err != nil {
				t.Fatalf("New(%q): %v", tc.name, err)
			}
			if p.model != tc.model {
				t.Errorf("model = %q", p.model)
			}
		})
	}
}

func TestNew_OpenAIMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestSupported(t *testing.T) {
	got := Supported()
	if !slices.IsSorted(got) {
		t.Errorf("Supported() not sorted: %v", got)
	}
	if !slices.Contains(got, "anthropic") || !slices.Contains(got, "ollama") {
		t.Errorf("Supported() = %v", got)
	}
}

// ── CountTokens ───────────────────────────────────────────────────────────────

func TestCountTokens(t *testing.T) {
	p := &Provider{model: "llama3"}
	n, err := p.CountTokens([]llm.Message{{Role: "user", Content: "abcdefgh"}, {Role: "user", Content: "안녕"}})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	// (2 + 4) + (1 + 4)
	if n != 11 {
		t.Errorf("CountTokens = %d, want 11", n)
	}
}
