package tokenizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Tiktoken counts tokens with a tiktoken BPE encoding. The encoding is loaded
// lazily on the first Count; if loading fails the counter logs once and uses
// the heuristic from then on.
type Tiktoken struct {
	encodingName string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktoken returns a counter for encodingName ("cl100k_base",
// "o200k_base", ...). An empty name selects DefaultEncoding.
func NewTiktoken(encodingName string) *Tiktoken {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	return &Tiktoken{encodingName: encodingName}
}

func (t *Tiktoken) load() {
	enc, err := tiktoken.GetEncoding(t.encodingName)
	if err != nil {
		slog.Warn("tokenizer: tiktoken encoding unavailable, using heuristic",
			"encoding", t.encodingName, "err", err)
		return
	}
	t.enc = enc
}

// Count implements Counter.
func (t *Tiktoken) Count(_ context.Context, text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	t.once.Do(t.load)
	if t.enc == nil {
		return Estimate(text), nil
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// CountEach implements MultiCounter; BPE counts are cheap enough to take
// per part.
func (t *Tiktoken) CountEach(ctx context.Context, parts []string) ([]int, error) {
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := t.Count(ctx, p)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// ProviderCounter asks an llm.Provider for its token estimate.
type ProviderCounter struct {
	Provider llm.Provider
}

// Count implements Counter.
func (p ProviderCounter) Count(_ context.Context, text string) (int, error) {
	n, err := p.Provider.CountTokens([]llm.Message{{Role: "user", Content: text}})
	if err != nil {
		return 0, fmt.Errorf("tokenizer: provider count: %w", err)
	}
	return n, nil
}

var (
	_ Counter      = Heuristic{}
	_ Counter      = (*Tiktoken)(nil)
	_ MultiCounter = (*Tiktoken)(nil)
	_ Counter      = ProviderCounter{}
)
