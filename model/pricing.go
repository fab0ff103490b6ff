package model

import "github.com/spetersoncode/liteagent/event"

const perMillion = 1_000_000

// ChatPricing contains pricing per million tokens (USD) for chat models.
// Fields are zero if not applicable to a specific provider's model.
type ChatPricing struct {
	// InputPerMillion is the standard input token pricing (all providers).
	InputPerMillion float64
	// OutputPerMillion is the standard output token pricing (all providers).
	OutputPerMillion float64
	// CachedInputPerMillion is for cache-read input tokens.
	// Check HasCachedPricing() before using.
	CachedInputPerMillion float64
	// CacheWritePerMillion is for cache-creation input tokens (Anthropic only).
	CacheWritePerMillion float64
}

// HasCachedPricing returns true if the model supports cached input pricing.
func (p ChatPricing) HasCachedPricing() bool {
	return p.CachedInputPerMillion > 0
}

// CalculateCost returns the USD cost of usage under pricing. Cache counters
// fall back to the input rate when the model has no cache pricing.
func CalculateCost(u event.Usage, p ChatPricing) float64 {
	cached := p.CachedInputPerMillion
	if cached == 0 {
		cached = p.InputPerMillion
	}
	write := p.CacheWritePerMillion
	if write == 0 {
		write = p.InputPerMillion
	}
	return (float64(u.InputTokens)*p.InputPerMillion +
		float64(u.OutputTokens)*p.OutputPerMillion +
		float64(u.CacheReadInputTokens)*cached +
		float64(u.CacheCreationInputTokens)*write) / perMillion
}

// Cost returns the USD cost of usage for this model.
func (m ChatModel) Cost(u event.Usage) float64 {
	return CalculateCost(u, m.pricing)
}
