// Package tokens counts model tokens and trims tool output to a budget.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultModel is the encoding reference used for counting.
const DefaultModel = "gpt-4"

// Counter counts tokens with a tiktoken encoding. When the encoding cannot be
// loaded it estimates one token per four bytes.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter loads the encoding for model. It never fails: a missing
// encoding selects the estimate.
func NewCounter(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Estimator returns a Counter that always uses the four-bytes estimate.
func Estimator() *Counter { return &Counter{} }

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate returns text unchanged when it fits in maxTokens. Otherwise it keeps
// a prefix proportional to the budget with a 20% margin and appends a marker
// naming the original size.
func (c *Counter) Truncate(text string, maxTokens int) string {
	current := c.Count(text)
	if maxTokens <= 0 || current <= maxTokens {
		return text
	}
	runes := []rune(text)
	keep := int(float64(len(runes)) * (float64(maxTokens) / float64(current)) * 0.8)
	return fmt.Sprintf("%s...\n\n[TRUNCATED - Original response was %d tokens, truncated to ~%d tokens]",
		string(runes[:keep]), current, maxTokens)
}

var (
	defaultOnce    sync.Once
	defaultCounter *Counter
)

// Default returns the shared Counter for DefaultModel, loaded on first use.
func Default() *Counter {
	defaultOnce.Do(func() {
		defaultCounter = NewCounter(DefaultModel)
	})
	return defaultCounter
}

// Count counts with the Default counter.
func Count(text string) int { return Default().Count(text) }

// Truncate truncates with the Default counter.
func Truncate(text string, maxTokens int) string { return Default().Truncate(text, maxTokens) }
