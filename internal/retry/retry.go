package retry

import (
	"context"
	"time"
)

// Do calls fn until it succeeds, fails with a non-transient error, or the
// attempts run out. Backoff waits stop early when ctx is done.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoNotify(ctx, cfg, nil, fn)
}

// DoNotify is Do with a callback observing each failed attempt.
func DoNotify[T any](ctx context.Context, cfg Config, notify Notify, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := cfg.attempts()

	report := func(e Event) {
		if notify != nil {
			e.MaxAttempts = attempts
			notify(e)
		}
	}

	for attempt := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		retryable := IsTransient(err)
		report(Event{Type: EventAttemptFailed, Attempt: attempt + 1, Err: err, Retryable: retryable})
		if !retryable {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		delay := effectiveDelay(cfg.Delay(attempt), err)
		report(Event{Type: EventRetrying, Attempt: attempt + 1, Err: err, Retryable: true, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	report(Event{Type: EventExhausted, Attempt: attempts, Err: lastErr, Retryable: true})
	return zero, lastErr
}
