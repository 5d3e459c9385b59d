package devserver

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("devserver: invalid config")

	// ErrInvalidToken is returned when an access or refresh token is rejected.
	ErrInvalidToken = errors.New("devserver: invalid token")

	// ErrInvalidHash is returned for malformed or unsupported password hashes.
	ErrInvalidHash = errors.New("devserver: invalid password hash")

	// ErrInvalidCredentials is returned when a username/password pair does not match.
	ErrInvalidCredentials = errors.New("devserver: invalid credentials")

	// ErrNotFound is returned for unknown users or chats.
	ErrNotFound = errors.New("devserver: not found")
)
