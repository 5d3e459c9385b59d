// Package app wires the arclink client runtime: config, logging,
// credential storage, the session stack and the chat channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"arclink/cmd/internal/auth/credential"
	"arclink/cmd/internal/auth/session"
)

// ErrNotLoggedIn is returned by commands that need a live session.
var ErrNotLoggedIn = errors.New("not logged in")

// Store is a small app-level lifecycle abstraction.
// It exists to allow backend resources (Redis client, DB pool) to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type closeFunc func(ctx context.Context) error

func (f closeFunc) Close(ctx context.Context) error { return f(ctx) }

// App is the assembled client: one credential store, one refresh
// coordinator, one session manager and one authenticated HTTP client.
type App struct {
	cfg    Config
	log    Logger
	out    io.Writer
	errOut io.Writer

	resources Store
	store     *credential.Keeper
	api       *session.APIClient
	refresher *session.Coordinator
	session   *session.Manager
	gateway   *session.Gateway
	http      *http.Client
}

// New constructs a fully wired App. Command output goes to out and the
// login hint after a terminated session goes to errOut.
func New(ctx context.Context, cfg Config, log Logger, out, errOut io.Writer) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	sc, err := cfg.Session()
	if err != nil {
		return nil, err
	}

	backend, resources, err := buildCredentialBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	transport := WithRequestLogging(http.DefaultTransport, log)
	api, err := session.NewAPIClient(sc, transport)
	if err != nil {
		_ = resources.Close(ctx)
		return nil, err
	}

	store := credential.Open(ctx, backend, credential.WithLogger(log))
	coord := session.NewCoordinator(log, store, api, sc.RefreshTimeout)
	mgr := session.NewManager(log, store, api, coord, cliNavigator{log: log, w: errOut})
	gw := session.NewGateway(log, transport, store, coord, mgr, sc.ExpiredStatuses)

	return &App{
		cfg:       cfg,
		log:       log,
		out:       out,
		errOut:    errOut,
		resources: resources,
		store:     store,
		api:       api,
		refresher: coord,
		session:   mgr,
		gateway:   gw,
		http:      gw.Client(api.Jar(), sc.Timeout),
	}, nil
}

// Close releases backend resources.
func (a *App) Close(ctx context.Context) error {
	if err := a.resources.Close(ctx); err != nil {
		a.log.Error("store.close.fail", "err", err)
		return err
	}
	return nil
}

// Session exposes the session manager.
func (a *App) Session() *session.Manager { return a.session }

// HTTPClient returns the authenticated client. Requests made through it
// carry the current credential and recover from expiry transparently.
func (a *App) HTTPClient() *http.Client { return a.http }

// Store exposes the credential store.
func (a *App) Store() *credential.Keeper { return a.store }

// restore runs session bootstrap and fails unless the session is live.
func (a *App) restore(ctx context.Context) (session.User, error) {
	st, err := a.session.Restore(ctx)
	if err != nil {
		return session.User{}, err
	}
	if st != session.StateAuthenticated {
		return session.User{}, ErrNotLoggedIn
	}
	u, _ := a.session.User()
	return u, nil
}

// cliNavigator is the terminal rendition of "go to the login view".
type cliNavigator struct {
	log Logger
	w   io.Writer
}

func (n cliNavigator) ToLogin(reason string) {
	n.log.Info("session.redirect.login", "reason", reason)
	_, _ = fmt.Fprintf(n.w, "session ended (%s); run `arclink login` to sign in again\n", reason)
}
