package graph

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfig indicates missing or invalid sync configuration, such as
	// an account with no refresh token. Fatal to the cycle.
	ErrConfig = errors.New("graph: missing configuration")

	// ErrMapping indicates a remote record that could not be mapped
	// (malformed JSON, bad date, missing nested object). The record is
	// skipped, never the cycle.
	ErrMapping = errors.New("graph: mapping failed")

	// ErrUnauthorized indicates the access token is invalid or expired.
	ErrUnauthorized = errors.New("graph: unauthorized")

	// ErrRateLimited indicates the request was throttled by Microsoft Graph.
	ErrRateLimited = errors.New("graph: rate limited")
)

// RemoteError is a structured non-2xx response from Microsoft Graph.
type RemoteError struct {
	Status       int
	GraphMessage string
	Body         string
}

func (e *RemoteError) Error() string {
	if e.GraphMessage != "" {
		return fmt.Sprintf("graph: status %d: %s", e.Status, e.GraphMessage)
	}
	return fmt.Sprintf("graph: status %d", e.Status)
}

// Unwrap maps well-known statuses onto sentinel errors so callers can use
// errors.Is without inspecting the status code.
func (e *RemoteError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote) && remote.Status == http.StatusNotFound
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var remote *RemoteError
	if !errors.As(err, &remote) {
		return false
	}
	return remote.Status == http.StatusTooManyRequests ||
		remote.Status == http.StatusServiceUnavailable ||
		remote.Status == http.StatusGatewayTimeout
}
