package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arclink/cmd/internal/auth/credential"
)

type stubRefresher struct {
	calls atomic.Int64
	gate  chan struct{}
	tok   credential.Token
	err   error
}

func (s *stubRefresher) Refresh(ctx context.Context) (credential.Token, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.tok, s.err
}

func capableStore() *credential.Keeper {
	k := credential.NewKeeper(nil, credential.WithLogger(quietLogger()))
	k.Set(credential.Snapshot{AccessToken: "old", RefreshCapable: true})
	return k
}

func TestCoordinator_SharesOneCall(t *testing.T) {
	t.Parallel()

	store := capableStore()
	api := &stubRefresher{gate: make(chan struct{}), tok: "new"}
	c := NewCoordinator(quietLogger(), store, api, time.Second)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan credential.Token, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Refresh(context.Background())
			if err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
			results <- tok
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(api.gate)
	wg.Wait()
	close(results)

	for tok := range results {
		if tok != "new" {
			t.Fatalf("expected every caller to see the shared token, got %q", tok)
		}
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("expected 1 refresh call, got %d", got)
	}
	if store.Token() != "new" || !store.RefreshCapable() {
		t.Fatalf("expected store updated with capability kept")
	}
}

func TestCoordinator_FailureIsSharedAndWrapped(t *testing.T) {
	t.Parallel()

	store := capableStore()
	api := &stubRefresher{err: &StatusError{Op: "refresh", Status: 401, Expired: true}}
	c := NewCoordinator(quietLogger(), store, api, time.Second)

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected refresh failure wrapping unauthorized, got %v", err)
	}
	var re *RefreshError
	if !errors.As(err, &re) || re.Status != 401 {
		t.Fatalf("expected RefreshError with status 401, got %v", err)
	}
	if store.Token() != "old" {
		t.Fatalf("a failed refresh must not touch the stored credential")
	}
}

func TestCoordinator_NoCapability(t *testing.T) {
	t.Parallel()

	store := credential.NewKeeper(nil, credential.WithLogger(quietLogger()))
	store.Set(credential.Snapshot{AccessToken: "old"})
	api := &stubRefresher{tok: "new"}
	c := NewCoordinator(quietLogger(), store, api, time.Second)

	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrNoRefreshCapability) || !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected ErrNoRefreshCapability, got %v", err)
	}
	if api.calls.Load() != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestCoordinator_CallerCancelLeavesSharedCallRunning(t *testing.T) {
	t.Parallel()

	store := capableStore()
	api := &stubRefresher{gate: make(chan struct{}), tok: "new"}
	c := NewCoordinator(quietLogger(), store, api, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(api.gate)
	deadline := time.Now().Add(time.Second)
	for store.Token() != "new" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Token() != "new" {
		t.Fatalf("expected detached refresh to complete and update the store")
	}
}

func TestCoordinator_SequentialCallsRefreshAgain(t *testing.T) {
	t.Parallel()

	store := capableStore()
	api := &stubRefresher{tok: "new"}
	c := NewCoordinator(quietLogger(), store, api, time.Second)

	for range 2 {
		if _, err := c.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}
	if got := api.calls.Load(); got != 2 {
		t.Fatalf("expected a fresh call once the previous one settled, got %d", got)
	}
}
