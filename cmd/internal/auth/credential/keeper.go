package credential

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"arclink/cmd/internal/observability"
)

const defaultBackendTimeout = 3 * time.Second

// Keeper is the Store implementation used by the application.
//
// The in-memory snapshot is authoritative. The backend is written through on
// every mutation; once a write fails the keeper is marked degraded and keeps
// trying on later writes.
type Keeper struct {
	log     *slog.Logger
	backend Backend
	timeout time.Duration
	now     func() time.Time

	// wmu orders writes: the memory update and its backend write happen
	// under it together, so backend state always follows the last mutation.
	wmu sync.Mutex

	mu       sync.RWMutex
	snap     Snapshot
	degraded bool
}

// KeeperOption configures a Keeper.
type KeeperOption func(*Keeper)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(log *slog.Logger) KeeperOption {
	return func(k *Keeper) {
		if log != nil {
			k.log = log
		}
	}
}

// WithBackendTimeout bounds every backend call.
func WithBackendTimeout(d time.Duration) KeeperOption {
	return func(k *Keeper) {
		if d > 0 {
			k.timeout = d
		}
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) KeeperOption {
	return func(k *Keeper) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeeper constructs an empty Keeper. A nil backend means memory only.
func NewKeeper(backend Backend, opts ...KeeperOption) *Keeper {
	if backend == nil {
		backend = MemoryBackend{}
	}
	k := &Keeper{
		log:     slog.Default(),
		backend: backend,
		timeout: defaultBackendTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Open constructs a Keeper and loads the persisted snapshot.
// A load failure is logged and the keeper starts empty.
func Open(ctx context.Context, backend Backend, opts ...KeeperOption) *Keeper {
	k := NewKeeper(backend, opts...)
	k.load(ctx)
	return k
}

func (k *Keeper) load(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, k.timeout)
	defer cancel()

	s, err := k.backend.Load(ctx)
	switch {
	case err == nil:
		k.mu.Lock()
		k.snap = s
		k.mu.Unlock()
		k.log.Debug("credential.load.ok", "backend", k.backend.Name(), "refresh_capable", s.RefreshCapable)
	case errors.Is(err, ErrNotFound):
		k.log.Debug("credential.load.empty", "backend", k.backend.Name())
	default:
		k.markDegraded("load", err)
	}
}

// Get implements Store.
func (k *Keeper) Get() (Snapshot, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.snap, !k.snap.Empty()
}

// Token returns the current access token or "".
func (k *Keeper) Token() Token {
	s, _ := k.Get()
	return s.AccessToken
}

// RefreshCapable reports whether a refresh may be attempted.
func (k *Keeper) RefreshCapable() bool {
	s, ok := k.Get()
	return ok && s.RefreshCapable
}

// Set implements Store.
func (k *Keeper) Set(s Snapshot) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = k.now()
	}

	k.wmu.Lock()
	defer k.wmu.Unlock()

	k.mu.Lock()
	k.snap = s
	k.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.backend.Save(ctx, s); err != nil {
		k.markDegraded("save", err)
		return
	}
	k.markHealthy()
}

// Clear implements Store.
func (k *Keeper) Clear() {
	k.wmu.Lock()
	defer k.wmu.Unlock()

	k.mu.Lock()
	k.snap = Snapshot{}
	k.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.backend.Delete(ctx); err != nil {
		k.markDegraded("delete", err)
		return
	}
	k.markHealthy()
}

// Degraded reports whether the last backend operation failed.
func (k *Keeper) Degraded() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.degraded
}

func (k *Keeper) markDegraded(op string, err error) {
	k.mu.Lock()
	k.degraded = true
	k.mu.Unlock()

	observability.RecordCredentialBackendFailure(k.backend.Name(), op)
	k.log.Warn("credential.backend.degraded",
		"backend", k.backend.Name(),
		"op", op,
		"err", BackendError{Backend: k.backend.Name(), Op: op, Err: err},
	)
}

func (k *Keeper) markHealthy() {
	k.mu.Lock()
	was := k.degraded
	k.degraded = false
	k.mu.Unlock()
	if was {
		k.log.Info("credential.backend.recovered", "backend", k.backend.Name())
	}
}
