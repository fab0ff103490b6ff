// Package model provides model constants for the direct-API runtimes.
//
// This package exposes typed model constants with pricing information, used
// to price a run when the upstream API reports token usage but no cost.
//
//	m, ok := model.Lookup("claude-sonnet-4-5")
//	if ok {
//	    cost := m.Cost(event.Usage{InputTokens: 1200, OutputTokens: 300})
//	}
//
// Unknown identifiers can still be priced with [Custom].
package model
