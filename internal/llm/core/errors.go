package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingAPIKey indicates missing provider API key.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrStreamFormat indicates a malformed SSE stream: framing violations,
	// oversize events, or inconsistent tool-call fragments.
	ErrStreamFormat = errors.New("malformed stream")
	// ErrPayloadTooLarge indicates the serialized request exceeded its bound.
	ErrPayloadTooLarge = errors.New("request payload too large")
)

// UpstreamError is a non-2xx response from the completion endpoint. The body
// is captured (truncated) so the caller can surface it to the user.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	name := http.StatusText(e.StatusCode)
	if name == "" {
		name = fmt.Sprintf("status %d", e.StatusCode)
	}
	if e.Body == "" {
		return "error " + name
	}
	return "error " + name + ": " + e.Body
}

// Retryable reports whether the status is in the transient set.
func (e *UpstreamError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
