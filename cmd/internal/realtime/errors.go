package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when the channel is not connected. Nothing is queued.
	ErrNotConnected = errors.New("channel not connected")

	// ErrMaxReconnectExceeded is the terminal error after the reconnect budget is spent.
	ErrMaxReconnectExceeded = errors.New("max reconnect attempts exceeded")

	// ErrMalformedMessage marks an inbound frame that is not valid JSON. The frame is dropped.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrDial wraps handshake and network failures while opening the transport.
	ErrDial = errors.New("dial failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("channel manager closed")

	// ErrConfig is returned for invalid options.
	ErrConfig = errors.New("invalid channel config")
)

// Close codes used by the manager.
const (
	StatusNormalClosure = 1000
	StatusGoingAway     = 1001
)

// CloseError reports that the peer closed the transport with a close frame.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("peer closed: status=%d reason=%q", e.Code, e.Reason)
}

// Clean reports a normal closure, which does not trigger reconnection.
func (e *CloseError) Clean() bool { return e.Code == StatusNormalClosure }

// DialError is a failed handshake. Status is the HTTP status of the
// handshake response, or 0 when none was received.
type DialError struct {
	URL    string
	Status int
	Err    error
}

func (e *DialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", ErrDial.Error(), e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", ErrDial.Error(), e.URL, e.Err)
}

func (e *DialError) Unwrap() []error { return []error{ErrDial, e.Err} }
