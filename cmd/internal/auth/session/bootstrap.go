package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"arclink/cmd/internal/auth/credential"
	"arclink/cmd/internal/observability"
)

// State is the session lifecycle state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateLoggedOut       State = "logged_out"
)

// AuthAPI is the subset of APIClient the Manager needs.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (LoginResult, error)
	Logout(ctx context.Context, tok credential.Token) error
	CurrentUser(ctx context.Context, tok credential.Token) (User, error)
	ForgetCookies()
}

// Navigator routes the user to the login entry point after the session ends.
type Navigator interface {
	ToLogin(reason string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(reason string)

func (f NavigatorFunc) ToLogin(reason string) { f(reason) }

// Manager owns the session lifecycle: restore on start, login, logout and
// termination after unrecoverable authorization failures.
type Manager struct {
	log       *slog.Logger
	store     credential.Store
	api       AuthAPI
	refresher Refresher
	nav       Navigator

	mu        sync.Mutex
	state     State
	user      *User
	watchers  []watcher
	nextWatch int
}

type watcher struct {
	id int
	fn func(State)
}

// NewManager builds a Manager in StateUnauthenticated. nav may be nil.
func NewManager(log *slog.Logger, store credential.Store, api AuthAPI, refresher Refresher, nav Navigator) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, store: store, api: api, refresher: refresher, nav: nav, state: StateUnauthenticated}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the current user, if authenticated.
func (m *Manager) User() (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return User{}, false
	}
	return *m.user, true
}

// OnStateChange registers fn to run after every state transition, in
// registration order. The returned func unregisters it and is idempotent.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers = append(m.watchers, watcher{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.watchers = slices.DeleteFunc(m.watchers, func(w watcher) bool { return w.id == id })
		m.mu.Unlock()
	}
}

// Restore resumes a stored session. A rejected credential is refreshed at
// most once and the profile fetch retried once; if either fails the session
// ends locally without a logout call. A failure of the first fetch other
// than a rejection is returned with the stored credential left intact.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	snap, ok := m.store.Get()
	if !ok {
		m.transition(StateUnauthenticated, nil)
		return StateUnauthenticated, nil
	}

	u, err := m.api.CurrentUser(ctx, snap.AccessToken)
	if err == nil {
		m.transition(StateAuthenticated, &u)
		m.log.Info("session.restore.ok", "user", u.Username)
		return StateAuthenticated, nil
	}
	if !errors.Is(err, ErrUnauthorized) {
		m.log.Warn("session.restore.unavailable", "err", err)
		return m.State(), err
	}

	if !snap.RefreshCapable {
		m.log.Info("session.restore.expired", "refresh_capable", false)
		m.Terminate("restore_expired")
		return StateLoggedOut, nil
	}

	tok, err := m.refresher.Refresh(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return m.State(), ctxErr
		}
		m.log.Info("session.restore.refresh_failed", "err", err)
		m.Terminate("restore_refresh_failed")
		return StateLoggedOut, nil
	}

	u, err = m.api.CurrentUser(ctx, tok)
	if err != nil {
		m.log.Info("session.restore.retry_failed", "err", err)
		m.Terminate("restore_retry_failed")
		return StateLoggedOut, nil
	}

	m.transition(StateAuthenticated, &u)
	m.log.Info("session.restore.ok", "user", u.Username, "refreshed", true)
	return StateAuthenticated, nil
}

// Login authenticates and stores the credential along with the refresh capability.
func (m *Manager) Login(ctx context.Context, username, password string) (User, error) {
	res, err := m.api.Login(ctx, username, password)
	if err != nil {
		m.log.Info("session.login.failed", "user", username, "err", err)
		return User{}, err
	}
	m.store.Set(credential.Snapshot{AccessToken: res.Access, RefreshCapable: true})

	var u User
	if res.User != nil {
		u = *res.User
	} else {
		u, err = m.api.CurrentUser(ctx, res.Access)
		if err != nil {
			m.store.Clear()
			m.api.ForgetCookies()
			return User{}, err
		}
	}

	m.transition(StateAuthenticated, &u)
	m.log.Info("session.login.ok", "user", u.Username)
	return u, nil
}

// Logout asks the service to destroy the session, then ends it locally.
// A failed server call is logged; local state is cleared regardless.
func (m *Manager) Logout(ctx context.Context) error {
	var serverErr error
	if snap, ok := m.store.Get(); ok {
		serverErr = m.api.Logout(ctx, snap.AccessToken)
		if serverErr != nil {
			m.log.Warn("session.logout.server_failed", "err", serverErr)
		}
	}
	m.Terminate("logout")
	return serverErr
}

// Terminate clears the credential, the refresh capability and the cookie
// jar, then navigates to login. Repeated calls only navigate once.
func (m *Manager) Terminate(reason string) {
	m.store.Clear()
	m.api.ForgetCookies()

	m.mu.Lock()
	if m.state == StateLoggedOut {
		m.mu.Unlock()
		return
	}
	m.state = StateLoggedOut
	m.user = nil
	watchers := slices.Clone(m.watchers)
	m.mu.Unlock()

	for _, w := range watchers {
		w.fn(StateLoggedOut)
	}
	observability.RecordTermination(reason)
	m.log.Info("session.terminated", "reason", reason)
	if m.nav != nil {
		m.nav.ToLogin(reason)
	}
}

func (m *Manager) transition(to State, u *User) {
	m.mu.Lock()
	changed := m.state != to
	m.state = to
	m.user = u
	watchers := slices.Clone(m.watchers)
	m.mu.Unlock()

	if !changed {
		return
	}
	for _, w := range watchers {
		w.fn(to)
	}
}
