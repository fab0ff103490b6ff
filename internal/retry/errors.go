package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/spetersoncode/liteagent"
)

// statusCoder is implemented by the Anthropic and OpenAI SDK errors.
type statusCoder interface {
	StatusCode() int
}

// IsTransient reports whether err is worth retrying. A
// liteagent.CategorizedError decides explicitly; otherwise HTTP 429 and 5xx
// status codes and common network failures count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ce liteagent.CategorizedError
	if errors.As(err, &ce) {
		return ce.Category() == liteagent.ErrorTransient
	}

	var sc statusCoder
	if errors.As(err, &sc) && isTransientStatusCode(sc.StatusCode()) {
		return true
	}
	return isTransientNetworkError(err)
}

func isTransientStatusCode(code int) bool {
	return code == 429 || (code >= 500 && code < 600)
}

func isTransientNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if urlErr.Err != nil && isTransientNetworkError(urlErr.Err) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"overloaded",
	"bad gateway",
	"gateway timeout",
}

// retryAfter extracts a server-suggested delay from a CategorizedError.
func retryAfter(err error) time.Duration {
	var ce liteagent.CategorizedError
	if errors.As(err, &ce) {
		return ce.RetryAfter()
	}
	return 0
}

// effectiveDelay honors a larger server Retry-After.
func effectiveDelay(configured time.Duration, err error) time.Duration {
	return max(configured, retryAfter(err))
}
