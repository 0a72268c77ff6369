// Package tokens provides tokenizer-accurate counting and cost estimation
// for usage accounting. Counting goes through tiktoken rather than a
// character heuristic so the ledger matches what providers bill.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

type Estimator struct {
	defaultRateUSD float64
	rates          map[string]float64

	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewEstimator builds an estimator with a per-model rate table (USD per 1K
// tokens). Models absent from the table are billed at defaultRateUSD.
func NewEstimator(defaultRateUSD float64, rates map[string]float64) *Estimator {
	if defaultRateUSD <= 0 {
		defaultRateUSD = 0.015
	}
	if rates == nil {
		rates = map[string]float64{}
	}
	return &Estimator{
		defaultRateUSD: defaultRateUSD,
		rates:          rates,
	}
}

// Count returns the token count of text. The encoding is resolved once for
// gpt-4o and falls back to cl100k_base for unknown model families.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}

	enc := e.encoding()
	if enc == nil {
		// Tokenizer data unavailable; approximate at 4 chars per token.
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountAll sums the token counts of all parts.
func (e *Estimator) CountAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += e.Count(p)
	}
	return total
}

// CostUSD prices tokens for a model: tokens/1000 * rate.
func (e *Estimator) CostUSD(tokens int, model string) float64 {
	rate, ok := e.rates[model]
	if !ok {
		rate = e.defaultRateUSD
	}
	return float64(tokens) / 1000 * rate
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enc != nil {
		return e.enc
	}

	enc, err := tiktoken.EncodingForModel("gpt-4o")
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil
		}
	}
	e.enc = enc
	return e.enc
}
