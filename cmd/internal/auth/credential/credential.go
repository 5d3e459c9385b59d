package credential

import (
	"context"
	"time"
)

// Token is an opaque bearer access credential.
type Token string

// String redacts the token so it never reaches logs by accident.
func (t Token) String() string {
	if t == "" {
		return ""
	}
	return "[redacted]"
}

// Snapshot is the persisted session state: the access credential and whether
// a refresh capability has been established for it.
type Snapshot struct {
	AccessToken    Token     `json:"access_token"`
	RefreshCapable bool      `json:"refresh_capable"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Empty reports whether the snapshot carries no credential.
func (s Snapshot) Empty() bool { return s.AccessToken == "" }

// Store is the credential contract used by the gateway, the refresh
// coordinator and the session manager.
type Store interface {
	// Get returns the current snapshot and whether a credential is present.
	Get() (Snapshot, bool)
	// Set replaces the current snapshot.
	Set(s Snapshot)
	// Clear removes the credential and the refresh-capability marker.
	Clear()
}

// Backend persists snapshots across process restarts.
type Backend interface {
	// Name is a short stable identifier used in logs ("file", "redis", ...).
	Name() string
	// Load returns the persisted snapshot or ErrNotFound.
	Load(ctx context.Context) (Snapshot, error)
	// Save persists s, replacing any previous value.
	Save(ctx context.Context, s Snapshot) error
	// Delete removes the persisted value. Deleting a missing value is not an error.
	Delete(ctx context.Context) error
}
