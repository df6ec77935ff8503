// Package utils provides tiktoken-based token counting, used to estimate an
// ApiCall's token_cost from a request payload when a caller hasn't supplied
// one explicitly. Estimation is an enrichment on top of the core invariant
// (token_cost defaults to 1 when unset) — callers that need exact provider
// accounting should still populate token_cost themselves.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for one tokenizer codec.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter for provider, approximating every
// provider with the GPT-4 encoding — providers' own tokenizers differ in
// detail, but this is close enough for rate-limit and cost estimation rather
// than exact accounting.
func NewTokenCounter(provider string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer codec for provider %s: %w", provider, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text, falling back to a
// character-based estimate (4 chars ≈ 1 token) if the codec is unavailable or
// errors.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts tokens using the default GPT-4 encoding without
// requiring a TokenCounter instance.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("default")
	if err != nil {
		return len(text) / 4
	}
	return counter.CountTokens(text)
}

// ValidateTokenLimit reports whether text's token count is within limit.
func (tc *TokenCounter) ValidateTokenLimit(text string, limit int) bool {
	return tc.CountTokens(text) <= limit
}

// TruncateToTokenLimit truncates text to approximately fit within limit
// tokens. The truncation is proportional by character count, not an exact
// token boundary.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	currentTokens := tc.CountTokens(text)
	if currentTokens <= limit {
		return text
	}

	ratio := float64(limit) / float64(currentTokens)
	charLimit := int(float64(len(text)) * ratio * 0.9) // safety margin for estimation error

	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}

// EstimateTokenCost estimates the integer token_cost for an ApiCall's
// payload: it concatenates every string-valued field and counts tokens
// against provider's approximated encoding. Non-string payload values are
// ignored by the estimate — numeric/boolean fields rarely dominate a
// request's true token cost.
func EstimateTokenCost(provider string, payload map[string]any) (int, error) {
	counter, err := NewTokenCounter(provider)
	if err != nil {
		return 0, err
	}
	var text string
	for _, v := range payload {
		if s, ok := v.(string); ok {
			text += s + " "
		}
	}
	if text == "" {
		return 1, nil
	}
	cost := counter.CountTokens(text)
	if cost < 1 {
		cost = 1
	}
	return cost, nil
}
