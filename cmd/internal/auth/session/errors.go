package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is an authorization-expired response (the credential is no longer accepted).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is the terminal error surfaced to callers once a session cannot be recovered.
	ErrSessionExpired = errors.New("session expired")

	// ErrRefreshFailed is returned when the refresh call fails or cannot be attempted.
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrNoRefreshCapability is returned when the session holds no refresh capability.
	ErrNoRefreshCapability = errors.New("no refresh capability")

	// ErrInvalidCredentials is returned when login is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNetwork wraps transport-level failures of one-shot HTTP calls.
	ErrNetwork = errors.New("network error")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// StatusError is a non-2xx response from an auth endpoint.
type StatusError struct {
	Op      string
	Status  int
	Message string
	// Expired is set when Status is one of the configured authorization-expired codes.
	Expired bool
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap maps expired responses to ErrUnauthorized so callers can branch with errors.Is.
func (e *StatusError) Unwrap() error {
	if e.Expired {
		return ErrUnauthorized
	}
	return nil
}

// RefreshError reports a failed refresh. It always matches ErrRefreshFailed.
// Status is the refresh endpoint's response code, or 0 if none was received.
type RefreshError struct {
	Status int
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return ErrRefreshFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrRefreshFailed.Error(), e.Err)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}

// SessionExpiredError is returned by the Gateway when a request cannot be
// authorized even after the single permitted refresh. It always matches
// ErrSessionExpired; Err carries the cause (a RefreshError or ErrUnauthorized).
type SessionExpiredError struct {
	Method string
	URL    string
	Err    error
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, ErrSessionExpired.Error(), e.Err)
}

func (e *SessionExpiredError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSessionExpired}
	}
	return []error{ErrSessionExpired, e.Err}
}
