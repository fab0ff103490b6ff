// Package retry re-attempts opening an upstream stream when the failure is
// transient. Only establishment is retried; a stream that has started
// delivering messages is never replayed.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config holds retry parameters.
type Config struct {
	// MaxAttempts counts the initial attempt. Values below 1 mean 1.
	MaxAttempts int

	// InitialDelay is the base delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps a single delay.
	MaxDelay time.Duration

	// Multiplier is the exponential backoff factor.
	Multiplier float64

	// Jitter scales each delay by 1 ± Jitter.
	Jitter float64
}

// DefaultConfig returns 3 attempts starting at 500ms, doubling, capped at
// 10s, with 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Disabled returns a single-attempt configuration.
func Disabled() Config {
	return Config{MaxAttempts: 1}
}

func (c Config) attempts() int {
	return max(c.MaxAttempts, 1)
}

// Delay is the wait after the given 0-indexed attempt:
// min(MaxDelay, InitialDelay * Multiplier^attempt) scaled by jitter.
func (c Config) Delay(attempt int) time.Duration {
	attempt = max(attempt, 0)

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		delay *= 1.0 + (rand.Float64()*2-1)*c.Jitter
	}
	return time.Duration(delay)
}
