// Package usage accounts for token usage and cost across one run.
//
// Runtimes report usage redundantly: the Claude Code CLI repeats the same
// API message, with the same usage figure, once per content block. The
// Accumulator counts every distinct message once and lets the end-of-run
// summary override the per-message sums.
package usage

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"

	"github.com/spetersoncode/liteagent/event"
	"github.com/spetersoncode/liteagent/upstream"
)

// Accumulator aggregates usage for one run. It is owned by a single run
// adapter and is not safe for concurrent use.
type Accumulator struct {
	seen map[string]struct{}

	sum         event.Usage
	sumObserved bool
	cost        float64
	costSeen    bool

	summaryUsage *event.Usage
	summaryCost  *float64

	opaque []json.RawMessage
}

// New returns an empty Accumulator.
func New() *Accumulator {
	return &Accumulator{seen: make(map[string]struct{})}
}

// Observe feeds one upstream message. Messages without usage or cost
// figures are ignored.
func (a *Accumulator) Observe(m upstream.Message) {
	switch msg := m.(type) {
	case upstream.AssistantMessage:
		if msg.Usage == nil && msg.CostUSD == nil {
			return
		}
		id := msg.ID
		if id == "" {
			id = syntheticID(msg.Raw())
		}
		if _, dup := a.seen[id]; dup {
			return
		}
		a.seen[id] = struct{}{}

		if msg.Usage != nil {
			if u, ok := a.parse(msg.Usage); ok {
				a.sum = a.sum.Add(u)
				a.sumObserved = true
			}
		}
		if msg.CostUSD != nil {
			a.cost += *msg.CostUSD
			a.costSeen = true
		}

	case upstream.ResultMessage:
		if msg.Usage != nil {
			if u, ok := a.parse(msg.Usage); ok {
				a.summaryUsage = &u
			}
		}
		if msg.TotalCostUSD != nil {
			c := *msg.TotalCostUSD
			a.summaryCost = &c
		}
	}
}

// Total returns the authoritative cost and usage of the run. Each is nil
// when the run never reported it; a summary figure replaces the
// corresponding accumulated figure.
func (a *Accumulator) Total() (cost *float64, usage *event.Usage) {
	switch {
	case a.summaryCost != nil:
		c := *a.summaryCost
		cost = &c
	case a.costSeen:
		c := a.cost
		cost = &c
	}

	switch {
	case a.summaryUsage != nil:
		u := *a.summaryUsage
		usage = &u
	case a.sumObserved:
		u := a.sum
		usage = &u
	}
	return cost, usage
}

// Opaque returns the usage figures that could not be parsed as counters.
func (a *Accumulator) Opaque() []json.RawMessage {
	return a.opaque
}

// counterKeys lists the accepted spellings of each counter.
var counterKeys = [4][2]string{
	{"input_tokens", "inputTokens"},
	{"output_tokens", "outputTokens"},
	{"cache_creation_input_tokens", "cacheCreationInputTokens"},
	{"cache_read_input_tokens", "cacheReadInputTokens"},
}

// parse reads the four counters from a usage object. Anything that is not
// an object with at least one numeric counter is kept as opaque.
func (a *Accumulator) parse(raw json.RawMessage) (event.Usage, bool) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		a.opaque = append(a.opaque, raw)
		return event.Usage{}, false
	}

	var counts [4]int64
	found := false
	for i, keys := range counterKeys {
		for _, k := range keys {
			if n, ok := obj[k].(float64); ok {
				counts[i] = int64(n)
				found = true
				break
			}
		}
	}
	if !found {
		a.opaque = append(a.opaque, raw)
		return event.Usage{}, false
	}
	return event.Usage{
		InputTokens:              counts[0],
		OutputTokens:             counts[1],
		CacheCreationInputTokens: counts[2],
		CacheReadInputTokens:     counts[3],
	}, true
}

// syntheticID derives a stable id for a message that carries none, so the
// same payload observed twice is counted once.
func syntheticID(raw json.RawMessage) string {
	sum := blake3.Sum256(raw)
	return "synthetic-" + hex.EncodeToString(sum[:16])
}
