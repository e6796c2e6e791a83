// Package tokenizer provides the token-counting capability used to keep the
// injected memory under its budget.
//
// Three counters are available:
//   - [Heuristic]: deterministic, dependency-free estimate (2 CJK runes ≈ 1
//     token, 4 other runes ≈ 1 token).
//   - [Tiktoken]: BPE counting with a tiktoken encoding, falling back to the
//     heuristic when the encoding cannot be loaded.
//   - [ProviderCounter]: delegates to an llm.Provider's CountTokens.
//
// [CountEach] turns any Counter into per-part counts with a single call.
package tokenizer

import (
	"context"
	"unicode"
	"unicode/utf8"
)

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// MultiCounter is implemented by counters that can return exact per-part
// counts in one call.
type MultiCounter interface {
	CountEach(ctx context.Context, parts []string) ([]int, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Heuristic
// ─────────────────────────────────────────────────────────────────────────────

// Heuristic estimates tokens without a vocabulary: every two CJK runes count
// as one token and every four other runes count as one token, each rounded
// up. The zero value is ready to use.
type Heuristic struct{}

// Count implements Counter. It never fails.
func (Heuristic) Count(_ context.Context, text string) (int, error) {
	return Estimate(text), nil
}

// CountEach implements MultiCounter with an exact estimate per part.
func (Heuristic) CountEach(_ context.Context, parts []string) ([]int, error) {
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i] = Estimate(p)
	}
	return out, nil
}

var (
	_ Counter      = Heuristic{}
	_ MultiCounter = Heuristic{}
)

// Estimate is the heuristic count as a plain function.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return (cjk+1)/2 + (other+3)/4
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hangul, unicode.Hiragana, unicode.Katakana)
}

// ─────────────────────────────────────────────────────────────────────────────
// batch helper
// ─────────────────────────────────────────────────────────────────────────────

// CountEach returns one count per part. When c implements MultiCounter the
// exact counts are used. Otherwise the parts are joined with newlines,
// counted once, and the total is split in proportion to each part's rune
// length (rounded up, so the parts never undercount the total).
func CountEach(ctx context.Context, c Counter, parts []string) ([]int, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if mc, ok := c.(MultiCounter); ok {
		return mc.CountEach(ctx, parts)
	}

	joined := make([]byte, 0, 256)
	lengths := make([]int, len(parts))
	sum := 0
	for i, p := range parts {
		if i > 0 {
			joined = append(joined, '\n')
		}
		joined = append(joined, p...)
		lengths[i] = utf8.RuneCountInString(p)
		sum += lengths[i]
	}

	total, err := c.Count(ctx, string(joined))
	if err != nil {
		return nil, err
	}

	out := make([]int, len(parts))
	if sum == 0 {
		return out, nil
	}
	for i, n := range lengths {
		out[i] = (total*n + sum - 1) / sum
	}
	return out, nil
}
