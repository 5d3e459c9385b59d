package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"arclink/cmd/internal/auth/credential"
	"arclink/cmd/internal/observability"
)

// Refresher obtains a fresh access credential from the service.
type Refresher interface {
	Refresh(ctx context.Context) (credential.Token, error)
}

const refreshKey = "refresh"

// Coordinator guarantees at most one refresh call is in flight. Every
// concurrent caller observes the same outcome.
type Coordinator struct {
	log     *slog.Logger
	store   credential.Store
	api     Refresher
	timeout time.Duration

	group singleflight.Group
}

// NewCoordinator wires a coordinator. timeout bounds the shared refresh call.
func NewCoordinator(log *slog.Logger, store credential.Store, api Refresher, timeout time.Duration) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultConfig().RefreshTimeout
	}
	return &Coordinator{log: log, store: store, api: api, timeout: timeout}
}

// Refresh returns a new access credential, joining an in-flight refresh if
// one exists. Failures are *RefreshError. Cancelling ctx releases this
// caller only; the shared call keeps running for the others.
func (c *Coordinator) Refresh(ctx context.Context) (credential.Token, error) {
	snap, _ := c.store.Get()
	if !snap.RefreshCapable {
		observability.RecordRefresh("no_capability")
		return "", &RefreshError{Err: ErrNoRefreshCapability}
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(credential.Token), nil
	}
}

func (c *Coordinator) refresh(parent context.Context) (credential.Token, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	start := time.Now()
	tok, err := c.api.Refresh(ctx)
	if err != nil {
		observability.RecordRefresh("failed")
		c.log.Warn("session.refresh.failed", "err", err, "unauthorized", errors.Is(err, ErrUnauthorized), "duration_ms", time.Since(start).Milliseconds())
		re := &RefreshError{Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			re.Status = se.Status
		}
		return "", re
	}

	c.store.Set(credential.Snapshot{AccessToken: tok, RefreshCapable: true})
	observability.RecordRefresh("ok")
	c.log.Info("session.refresh.ok", "duration_ms", time.Since(start).Milliseconds())
	return tok, nil
}
