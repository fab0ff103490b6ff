package liteagent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyMessage is returned when a turn is requested without a prompt.
var ErrEmptyMessage = errors.New("empty message")

// ErrorCategory tells the retry layer and the run adapter how to treat a failure.
type ErrorCategory string

const (
	// ErrorTransient marks a failure worth retrying: a rate limit, an
	// overloaded API, an upstream process that could not start.
	ErrorTransient ErrorCategory = "transient"

	// ErrorPermanent marks a failure no retry will fix: a rejected key, a
	// missing runtime binary, a stream that broke mid-run.
	ErrorPermanent ErrorCategory = "permanent"

	// ErrorUserInput marks a request the caller has to change.
	ErrorUserInput ErrorCategory = "user_input"
)

// CategorizedError is implemented by errors that carry handling metadata.
type CategorizedError interface {
	error
	Category() ErrorCategory
	Retryable() bool
	StatusCode() int           // 0 when no HTTP exchange was involved
	RetryAfter() time.Duration // server-suggested delay, 0 when unknown
}

// Error is the categorized error produced by runtimes and the turn layer.
type Error struct {
	Msg        string
	Cat        ErrorCategory
	Kind       string // reported as RunError.error_type when set
	Code       int
	RetryDelay time.Duration
	Cause      error
}

var _ CategorizedError = (*Error)(nil)

func newError(cat ErrorCategory, msg string, code int, cause error) *Error {
	return &Error{Msg: msg, Cat: cat, Code: code, Cause: cause}
}

// NewTransientError creates a retryable error.
func NewTransientError(msg string, statusCode int, cause error) *Error {
	return newError(ErrorTransient, msg, statusCode, cause)
}

// NewTransientErrorWithRetry creates a retryable error with the delay the
// server asked for.
func NewTransientErrorWithRetry(msg string, statusCode int, retryAfter time.Duration, cause error) *Error {
	e := newError(ErrorTransient, msg, statusCode, cause)
	e.RetryDelay = retryAfter
	return e
}

// NewPermanentError creates an error that must not be retried.
func NewPermanentError(msg string, statusCode int, cause error) *Error {
	return newError(ErrorPermanent, msg, statusCode, cause)
}

// NewUserInputError creates an error blaming the caller's request.
func NewUserInputError(msg string, statusCode int, cause error) *Error {
	return newError(ErrorUserInput, msg, statusCode, cause)
}

// WithKind sets the name reported as RunError.error_type and returns e.
func (e *Error) WithKind(kind string) *Error {
	e.Kind = kind
	return e
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Category() ErrorCategory { return e.Cat }

func (e *Error) Retryable() bool { return e.Cat == ErrorTransient }

func (e *Error) StatusCode() int { return e.Code }

func (e *Error) RetryAfter() time.Duration { return e.RetryDelay }

// CategoryOf returns the category of the first categorized error in err's
// chain, or "" when there is none.
func CategoryOf(err error) ErrorCategory {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category()
	}
	return ""
}

// IsTransient reports whether err is categorized as transient.
func IsTransient(err error) bool { return CategoryOf(err) == ErrorTransient }

// IsPermanent reports whether err is categorized as permanent.
func IsPermanent(err error) bool { return CategoryOf(err) == ErrorPermanent }

// IsUserInput reports whether err is categorized as a user input error.
func IsUserInput(err error) bool { return CategoryOf(err) == ErrorUserInput }

// StatusCodeOf returns the HTTP status code from a categorized error, or 0.
func StatusCodeOf(err error) int {
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.StatusCode()
	}
	return 0
}

// ErrorType returns the short kind name used for RunError.error_type.
// An explicit Kind wins, then cancellation, then the error category.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	}
	if cat := CategoryOf(err); cat != "" {
		return string(cat)
	}
	return "Error"
}
