package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrUnsupported is returned for requests an adapter cannot express.
var ErrUnsupported = errors.New("unsupported by provider")

// TransientError marks a failure that may succeed when retried: rate limiting,
// overload, gateway errors and per-call timeouts.
type TransientError struct {
	Err        error
	StatusCode int
	// RetryAfter is the delay the backend asked for, zero when unknown.
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient provider error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StatusError is a non-retryable HTTP failure returned by a backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err, or any error it wraps, is retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// TransientStatus reports whether an HTTP status code is worth retrying.
func TransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // overloaded
		return true
	default:
		return false
	}
}

// ClassifyStatus wraps an HTTP failure as TransientError or StatusError.
func ClassifyStatus(code int, body string, retryAfter time.Duration) error {
	if TransientStatus(code) {
		return &TransientError{
			Err:        &StatusError{StatusCode: code, Body: body},
			StatusCode: code,
			RetryAfter: retryAfter,
		}
	}
	return &StatusError{StatusCode: code, Body: body}
}

// ClassifyContext turns a per-call deadline into a TransientError. parent is the
// caller's context: when it is done the failure is a cancellation, not a timeout.
func ClassifyContext(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	return err
}

// ParseRetryAfter reads a Retry-After header expressed in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
		return d
	}
	return 0
}
