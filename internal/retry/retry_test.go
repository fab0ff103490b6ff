package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/liteagent"
)

// mockTimeoutError simulates a transient network error.
type mockTimeoutError struct{ msg string }

func (e *mockTimeoutError) Error() string   { return e.msg }
func (e *mockTimeoutError) Timeout() bool   { return true }
func (e *mockTimeoutError) Temporary() bool { return true }

var _ net.Error = (*mockTimeoutError)(nil)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestDoSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), DefaultConfig(), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast(3), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &mockTimeoutError{msg: "timeout"}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast(5), func(context.Context) (int, error) {
		calls++
		return 0, liteagent.NewPermanentError("bad key", 401, nil)
	})
	assert.True(t, liteagent.IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	var events []Event
	calls := 0
	_, err := DoNotify(context.Background(), fast(3), func(e Event) { events = append(events, e) },
		func(context.Context) (int, error) {
			calls++
			return 0, statusErr(503)
		})
	assert.Equal(t, statusErr(503), err)
	assert.Equal(t, 3, calls)

	var types []EventType
	for _, e := range events {
		types = append(types, e.Type)
		assert.Equal(t, 3, e.MaxAttempts)
	}
	assert.Equal(t, []EventType{
		EventAttemptFailed, EventRetrying,
		EventAttemptFailed, EventRetrying,
		EventAttemptFailed, EventExhausted,
	}, types)
}

func TestDoContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	_, err := DoNotify(ctx, cfg, func(e Event) {
		if e.Type == EventRetrying {
			cancel()
		}
	}, func(context.Context) (int, error) {
		return 0, statusErr(429)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Config{}, func(context.Context) (int, error) {
		calls++
		return 0, statusErr(500)
	})
	assert.Equal(t, 1, calls)
}

func TestHonorsRetryAfter(t *testing.T) {
	err := liteagent.NewTransientErrorWithRetry("slow down", 429, 3*time.Second, nil)
	assert.Equal(t, 3*time.Second, effectiveDelay(time.Second, err))
	assert.Equal(t, 5*time.Second, effectiveDelay(5*time.Second, err))
	assert.Equal(t, time.Second, effectiveDelay(time.Second, errors.New("x")))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"categorized transient", liteagent.NewTransientError("busy", 503, nil), true},
		{"categorized permanent overrides status", liteagent.NewPermanentError("nope", 500, nil), false},
		{"user input", liteagent.NewUserInputError("bad", 400, nil), false},
		{"429", statusErr(429), true},
		{"502 wrapped", fmt.Errorf("open: %w", statusErr(502)), true},
		{"404", statusErr(404), false},
		{"net timeout", &mockTimeoutError{msg: "i/o"}, true},
		{"url wrapping reset", &url.Error{Op: "Post", URL: "http://x", Err: syscall.ECONNRESET}, true},
		{"refused", syscall.ECONNREFUSED, true},
		{"overloaded message", errors.New("upstream overloaded"), true},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(0))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, time.Second, cfg.Delay(10))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(-1))

	cfg.Jitter = 0.5
	for range 20 {
		d := cfg.Delay(0)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
