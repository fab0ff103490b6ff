package model

// Provider identifies the vendor serving a model.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ChatModel represents a chat/completion model from any provider.
type ChatModel struct {
	id       string
	provider Provider
	pricing  ChatPricing
}

// String returns the API identifier for this model.
func (m ChatModel) String() string { return m.id }

// Provider returns which provider this model belongs to.
func (m ChatModel) Provider() Provider { return m.provider }

// Pricing returns the pricing for this model.
func (m ChatModel) Pricing() ChatPricing { return m.pricing }

// Anthropic Claude Models
// https://docs.anthropic.com/en/docs/about-claude/models
var (
	// Claude 4.5 Family (Current) - auto-updating aliases
	ClaudeOpus45   = ChatModel{id: "claude-opus-4-5", provider: ProviderAnthropic, pricing: claudePricing(5.00, 25.00)}
	ClaudeSonnet45 = ChatModel{id: "claude-sonnet-4-5", provider: ProviderAnthropic, pricing: claudePricing(3.00, 15.00)}
	ClaudeHaiku45  = ChatModel{id: "claude-haiku-4-5", provider: ProviderAnthropic, pricing: claudePricing(1.00, 5.00)}

	// Claude 4.5 Family - pinned versions
	ClaudeOpus45_20251101   = ChatModel{id: "claude-opus-4-5-20251101", provider: ProviderAnthropic, pricing: claudePricing(5.00, 25.00)}
	ClaudeSonnet45_20250929 = ChatModel{id: "claude-sonnet-4-5-20250929", provider: ProviderAnthropic, pricing: claudePricing(3.00, 15.00)}
	ClaudeHaiku45_20251001  = ChatModel{id: "claude-haiku-4-5-20251001", provider: ProviderAnthropic, pricing: claudePricing(1.00, 5.00)}

	// DefaultClaudeModel is the recommended default Anthropic model.
	DefaultClaudeModel = ClaudeSonnet45
)

// OpenAI GPT and O-Series Models
// https://platform.openai.com/docs/pricing
var (
	// GPT-5.2 Series (Latest - December 2025)
	GPT52    = ChatModel{id: "gpt-5.2", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 1.75, OutputPerMillion: 14.00, CachedInputPerMillion: 0.175}}
	GPT52Pro = ChatModel{id: "gpt-5.2-pro", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 3.50, OutputPerMillion: 28.00, CachedInputPerMillion: 0.35}}

	// GPT-5.1 Series
	GPT51      = ChatModel{id: "gpt-5.1", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedInputPerMillion: 0.125}}
	GPT51Mini  = ChatModel{id: "gpt-5.1-mini", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 0.30, OutputPerMillion: 1.25, CachedInputPerMillion: 0.03}}
	GPT51Codex = ChatModel{id: "gpt-5.1-codex", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedInputPerMillion: 0.125}}

	// GPT-5 Series
	GPT5     = ChatModel{id: "gpt-5", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedInputPerMillion: 0.125}}
	GPT5Mini = ChatModel{id: "gpt-5-mini", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 0.25, OutputPerMillion: 1.00, CachedInputPerMillion: 0.025}}
	GPT5Nano = ChatModel{id: "gpt-5-nano", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 0.10, OutputPerMillion: 0.40, CachedInputPerMillion: 0.01}}

	// O-Series (Reasoning)
	O3     = ChatModel{id: "o3", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 2.00, OutputPerMillion: 16.00, CachedInputPerMillion: 0.20}}
	O4Mini = ChatModel{id: "o4-mini", provider: ProviderOpenAI, pricing: ChatPricing{InputPerMillion: 0.50, OutputPerMillion: 2.00, CachedInputPerMillion: 0.05}}

	// DefaultGPTModel is the recommended default OpenAI model.
	DefaultGPTModel = GPT52
)

var known = []ChatModel{
	ClaudeOpus45, ClaudeSonnet45, ClaudeHaiku45,
	ClaudeOpus45_20251101, ClaudeSonnet45_20250929, ClaudeHaiku45_20251001,
	GPT52, GPT52Pro, GPT51, GPT51Mini, GPT51Codex, GPT5, GPT5Mini, GPT5Nano, O3, O4Mini,
}

// Lookup returns the known model with the given API identifier.
func Lookup(id string) (ChatModel, bool) {
	for _, m := range known {
		if m.id == id {
			return m, true
		}
	}
	return ChatModel{}, false
}

// Custom returns a model with an identifier and pricing this package does not
// know, for instance a newly released snapshot.
func Custom(id string, provider Provider, pricing ChatPricing) ChatModel {
	return ChatModel{id: id, provider: provider, pricing: pricing}
}

// claudePricing derives Anthropic's prompt-cache rates from the base input
// rate: writes cost 1.25x, reads 0.1x.
func claudePricing(input, output float64) ChatPricing {
	return ChatPricing{
		InputPerMillion:       input,
		OutputPerMillion:      output,
		CacheWritePerMillion:  input * 1.25,
		CachedInputPerMillion: input * 0.1,
	}
}
