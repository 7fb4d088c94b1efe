package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
	ErrThrottled    = errors.New("http: too many requests")
	ErrTimeout      = errors.New("http: request timeout")
)

// StatusError is returned for non-success responses. Retryable holds the
// classification made by IsRetryableStatus when the response was received.
type StatusError struct {
	StatusCode int
	Status     string
	Retryable  bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status %d %s", e.StatusCode, e.Status)
}

// Unwrap maps well-known status codes onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case e.StatusCode == http.StatusRequestTimeout:
		return ErrTimeout
	case e.StatusCode >= 500:
		return ErrServerError
	default:
		return nil
	}
}

// IsRetryableStatus reports whether a response status is worth another
// attempt. 403 is retryable: chunk URLs are presigned and the storage service
// answers 403 on transient signature/session hiccups. 404 is retried only when
// forceRetryOn404 is set.
func IsRetryableStatus(code int, forceRetryOn404 bool) bool {
	switch {
	case code < 100 || code > 599:
		return false
	case code < 400:
		return false
	case code == http.StatusForbidden:
		return true
	case code == http.StatusNotFound:
		return forceRetryOn404
	case code == http.StatusRequestTimeout:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable classifies an error returned by a single chunk attempt.
// Status errors keep their own classification, caller cancellation is never
// retried, and everything else (timeouts, resets, refused connections) is a
// transient transport failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnsupportedEncoding) {
		return false
	}
	return true
}
