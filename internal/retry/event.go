package retry

import "time"

// EventType identifies a step of a retry loop.
type EventType string

const (
	EventAttemptFailed EventType = "attempt_failed"
	EventRetrying      EventType = "retrying"
	EventExhausted     EventType = "exhausted"
)

// Event describes one step of a retry loop.
type Event struct {
	Type EventType

	// Attempt is 1-indexed.
	Attempt     int
	MaxAttempts int

	Err       error
	Retryable bool

	// Delay is the wait before the next attempt, on EventRetrying.
	Delay time.Duration
}

// Notify observes retry events. It is called synchronously.
type Notify func(Event)
