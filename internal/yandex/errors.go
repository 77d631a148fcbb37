// Package yandex is an HTTP client for a Yandex-Disk-like REST object
// store: list/create/download/upload/delete/quota over a JSON API, with
// automatic retry and HTTP-status classification (architecture §4.B).
package yandex

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification (architecture §4.B,
// "ApiError kinds"). Use errors.Is(err, yandex.ErrNotFound) to check.
var (
	ErrUnauthorized = errors.New("yandex: unauthorized")
	ErrNotFound     = errors.New("yandex: not found")
	ErrConflict     = errors.New("yandex: conflict")
	ErrTransport    = errors.New("yandex: transport error")
	ErrServer       = errors.New("yandex: server error")
	ErrProtocol     = errors.New("yandex: protocol error")
)

// APIError wraps a sentinel error with the observed HTTP status code (0
// for transport-level failures) and a human-readable message. Every
// adapter call that fails returns one of these, matching architecture
// §4.B's "every variant carries the observed HTTP status code ... and a
// message."
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("yandex: %s", e.Message)
	}

	return fmt.Sprintf("yandex: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. Returns
// nil for 2xx success codes.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return ErrConflict
	case code >= http.StatusInternalServerError:
		return ErrServer
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	default:
		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be
// retried: request timeout, throttling, and 5xx.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
