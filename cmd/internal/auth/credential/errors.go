package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrBackend marks a failure of the durable storage layer.
	ErrBackend = errors.New("credential backend failure")

	// ErrNotFound is returned by a Backend when nothing has been persisted.
	ErrNotFound = errors.New("credential not found")

	// ErrSealed is returned when a sealed document cannot be opened with the configured key.
	ErrSealed = errors.New("credential document cannot be unsealed")

	// ErrConfig is returned for invalid backend configuration.
	ErrConfig = errors.New("invalid credential store config")
)

// BackendError carries the backend name and operation of a storage failure.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e BackendError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrBackend.Error(), e.Backend, e.Op, e.Err)
}

func (e BackendError) Unwrap() []error { return []error{ErrBackend, e.Err} }
