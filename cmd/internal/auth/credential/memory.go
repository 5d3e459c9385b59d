package credential

import "context"

// MemoryBackend persists nothing. Load always reports ErrNotFound.
type MemoryBackend struct{}

// Name implements Backend.
func (MemoryBackend) Name() string { return "memory" }

// Load implements Backend.
func (MemoryBackend) Load(_ context.Context) (Snapshot, error) { return Snapshot{}, ErrNotFound }

// Save implements Backend.
func (MemoryBackend) Save(_ context.Context, _ Snapshot) error { return nil }

// Delete implements Backend.
func (MemoryBackend) Delete(_ context.Context) error { return nil }
