// Package tokens approximates token counts locally. Streaming sessions can
// complete without the server ever emitting a usage event; the estimator
// fills in a best-effort count so the result is never silently zero.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens with a tiktoken encoding. Counts are estimates:
// the research service does not document its tokenizer, so O200k_base is
// used as a reasonable stand-in for modern models.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator creates an estimator with the default encoding.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer encoding: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// EstimateTokens returns the approximate token count of text.
func (e *Estimator) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("failed to encode text: %w", err)
	}
	return len(ids), nil
}
