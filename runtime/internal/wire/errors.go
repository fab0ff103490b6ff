package wire

import (
	"net/http"
	"strconv"
	"time"

	"github.com/spetersoncode/liteagent"
)

// WrapStatus categorizes an API error by its HTTP status code, keeping the
// Retry-After hint so the retry layer can honor it.
func WrapStatus(err error, code int, resp *http.Response) error {
	msg := err.Error()
	if retryAfter := ParseRetryAfter(resp); retryAfter > 0 && categorizeStatusCode(code) == liteagent.ErrorTransient {
		return liteagent.NewTransientErrorWithRetry(msg, code, retryAfter, err)
	}

	switch categorizeStatusCode(code) {
	case liteagent.ErrorTransient:
		return liteagent.NewTransientError(msg, code, err)
	case liteagent.ErrorUserInput:
		return liteagent.NewUserInputError(msg, code, err)
	default:
		return liteagent.NewPermanentError(msg, code, err)
	}
}

// categorizeStatusCode determines the error category from an HTTP status code.
func categorizeStatusCode(code int) liteagent.ErrorCategory {
	switch {
	case code == 429:
		return liteagent.ErrorTransient // Rate limited
	case code == 529:
		return liteagent.ErrorTransient // Overloaded
	case code >= 500 && code < 600:
		return liteagent.ErrorTransient // Server error
	case code == 401 || code == 403:
		return liteagent.ErrorPermanent // Authentication/authorization
	case code == 400 || code == 404 || code == 413 || code == 422:
		return liteagent.ErrorUserInput // Bad request or not found
	default:
		return liteagent.ErrorPermanent // Default to permanent for unknown codes
	}
}

// ParseRetryAfter extracts the Retry-After duration from an HTTP response.
// Returns 0 if the header is not present or cannot be parsed.
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	// Try parsing as seconds (most common)
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// Try parsing as HTTP-date (RFC 7231)
	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}
