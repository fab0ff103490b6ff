package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spetersoncode/liteagent/event"
)

func TestCalculateCost(t *testing.T) {
	pricing := ChatPricing{
		InputPerMillion:  1.00,
		OutputPerMillion: 2.00,
	}

	t.Run("calculates cost for standard usage", func(t *testing.T) {
		usage := event.Usage{InputTokens: 1000, OutputTokens: 500}
		cost := CalculateCost(usage, pricing)
		// 1000/1M * $1 + 500/1M * $2 = $0.001 + $0.001 = $0.002
		assert.InDelta(t, 0.002, cost, 0.0001)
	})

	t.Run("calculates cost for million tokens", func(t *testing.T) {
		usage := event.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
		cost := CalculateCost(usage, pricing)
		assert.InDelta(t, 3.0, cost, 0.0001)
	})

	t.Run("returns zero for zero usage", func(t *testing.T) {
		cost := CalculateCost(event.Usage{}, pricing)
		assert.Equal(t, 0.0, cost)
	})

	t.Run("cache counters fall back to input rate", func(t *testing.T) {
		usage := event.Usage{CacheReadInputTokens: 1_000_000, CacheCreationInputTokens: 1_000_000}
		assert.InDelta(t, 2.0, CalculateCost(usage, pricing), 0.0001)
	})
}

func TestChatModel_Cost(t *testing.T) {
	t.Run("calculates cost using model pricing", func(t *testing.T) {
		// Claude Sonnet 4.5: $3/M input, $15/M output
		usage := event.Usage{InputTokens: 10000, OutputTokens: 5000}
		cost := ClaudeSonnet45.Cost(usage)
		// 10000/1M * $3 + 5000/1M * $15 = $0.03 + $0.075 = $0.105
		assert.InDelta(t, 0.105, cost, 0.0001)
	})

	t.Run("prices prompt cache for Claude", func(t *testing.T) {
		usage := event.Usage{CacheReadInputTokens: 1_000_000, CacheCreationInputTokens: 1_000_000}
		// read 0.1 * $3 + write 1.25 * $3
		assert.InDelta(t, 4.05, ClaudeSonnet45.Cost(usage), 0.0001)
	})

	t.Run("works with different models", func(t *testing.T) {
		usage := event.Usage{InputTokens: 100000, OutputTokens: 50000}
		assert.Greater(t, ClaudeSonnet45.Cost(usage), ClaudeHaiku45.Cost(usage))
	})
}

func TestChatPricing_HasCachedPricing(t *testing.T) {
	assert.True(t, GPT52.Pricing().HasCachedPricing())
	assert.True(t, ClaudeSonnet45.Pricing().HasCachedPricing())
	assert.False(t, ChatPricing{InputPerMillion: 1}.HasCachedPricing())
}

func TestLookup(t *testing.T) {
	m, ok := Lookup("gpt-5-mini")
	assert.True(t, ok)
	assert.Equal(t, ProviderOpenAI, m.Provider())
	assert.Equal(t, "gpt-5-mini", m.String())

	_, ok = Lookup("no-such-model")
	assert.False(t, ok)

	custom := Custom("claude-next", ProviderAnthropic, ChatPricing{InputPerMillion: 2})
	assert.InDelta(t, 2.0, custom.Cost(event.Usage{InputTokens: 1_000_000}), 0.0001)
}
