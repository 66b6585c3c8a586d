package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies backend failures so callers can decide what the user
// sees without parsing error strings.
type ErrorKind int

const (
	ErrorRetryable  ErrorKind = iota // transient 5xx
	ErrorRateLimit                   // 429
	ErrorTimeout                     // deadline exceeded or upstream timeout
	ErrorAuth                        // 401, 403
	ErrorBadRequest                  // 400
	ErrorBlocked                     // safety filter refused the prompt
	ErrorEmpty                       // well-formed response without content
	ErrorFatal                       // everything else
)

// String returns a human-readable label for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorRetryable:
		return "retryable"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorBlocked:
		return "blocked"
	case ErrorEmpty:
		return "empty"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError captures a failed backend call.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Op         string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, truncate(e.Body, 200))
	}
	return fmt.Sprintf("%s: API returned %d: %s", e.Op, e.StatusCode, truncate(e.Body, 200))
}

// ErrEmptyResponse is returned when the backend answered without content.
var ErrEmptyResponse = errors.New("empty response from model")

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if strings.Contains(bodyLower, "safety") || strings.Contains(bodyLower, "blocked") {
		return ErrorBlocked
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "resource_exhausted") {
		return ErrorRateLimit
	}

	if statusCode == 504 ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return ErrorTimeout
	}

	switch statusCode {
	case 400:
		return ErrorBadRequest
	case 401, 403:
		return ErrorAuth
	default:
		if statusCode >= 500 {
			return ErrorRetryable
		}
		return ErrorFatal
	}
}

// KindOf classifies any error returned by this package or by the transport.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	if errors.Is(err, ErrEmptyResponse) {
		return ErrorEmpty
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ErrorFatal
}

// IsTimeout reports whether err is a deadline or transport timeout.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrorTimeout
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
