package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"arclink/cmd/internal/auth/credential"
	"arclink/cmd/internal/observability"
)

// RequestIDHeader is set on every outbound request that lacks one.
const RequestIDHeader = "X-Request-ID"

// Terminator ends the session after an unrecoverable authorization failure.
type Terminator interface {
	Terminate(reason string)
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(reason string)

func (f TerminatorFunc) Terminate(reason string) { f(reason) }

// Gateway is an http.RoundTripper that attaches the stored access
// credential and, on an authorization-expired response, refreshes once
// and replays the request once.
type Gateway struct {
	log       *slog.Logger
	base      http.RoundTripper
	store     credential.Store
	refresher Refresher
	term      Terminator
	expired   map[int]struct{}
}

// NewGateway builds a Gateway. A nil base uses http.DefaultTransport; a nil
// Terminator makes refresh failures surface without ending the session.
func NewGateway(log *slog.Logger, base http.RoundTripper, store credential.Store, refresher Refresher, term Terminator, expiredStatuses []int) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if base == nil {
		base = http.DefaultTransport
	}
	if len(expiredStatuses) == 0 {
		expiredStatuses = DefaultConfig().ExpiredStatuses
	}
	exp := make(map[int]struct{}, len(expiredStatuses))
	for _, s := range expiredStatuses {
		exp[s] = struct{}{}
	}
	return &Gateway{log: log, base: base, store: store, refresher: refresher, term: term, expired: exp}
}

// Client returns an http.Client routed through the gateway. jar may be nil.
func (g *Gateway) Client(jar http.CookieJar, timeout time.Duration) *http.Client {
	return &http.Client{Transport: g, Jar: jar, Timeout: timeout}
}

// attempt is the replay record for one logical request. replayed flips
// once; a request is never refreshed or replayed twice.
type attempt struct {
	req       *http.Request
	requestID string
	body      []byte
	getBody   func() (io.ReadCloser, error)
	token     credential.Token
	replayed  bool
}

func newAttempt(req *http.Request) (*attempt, error) {
	at := &attempt{req: req, requestID: req.Header.Get(RequestIDHeader)}
	if at.requestID == "" {
		at.requestID = uuid.NewString()
	}

	if req.Body == nil || req.Body == http.NoBody {
		return at, nil
	}
	defer func() { _ = req.Body.Close() }()

	if req.GetBody != nil {
		at.getBody = req.GetBody
		return at, nil
	}
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: buffer request body: %w", err)
	}
	at.body = b
	return at, nil
}

// build clones the original request with the current credential attached.
func (at *attempt) build(tok credential.Token) (*http.Request, error) {
	r := at.req.Clone(at.req.Context())
	r.Header.Set(RequestIDHeader, at.requestID)
	if tok != "" {
		r.Header.Set("Authorization", "Bearer "+string(tok))
	}
	at.token = tok

	switch {
	case at.getBody != nil:
		b, err := at.getBody()
		if err != nil {
			return nil, fmt.Errorf("gateway: reopen request body: %w", err)
		}
		r.Body = b
	case at.body != nil:
		body := at.body
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		r.ContentLength = int64(len(body))
	}
	return r, nil
}

func (g *Gateway) RoundTrip(req *http.Request) (*http.Response, error) {
	at, err := newAttempt(req)
	if err != nil {
		return nil, err
	}

	resp, err := g.send(at, g.currentToken())
	if err != nil || !g.isExpired(resp.StatusCode) {
		return resp, err
	}
	drain(resp)

	tok, err := g.recover(req.Context(), at)
	if err != nil {
		return nil, err
	}

	at.replayed = true
	resp, err = g.send(at, tok)
	if err != nil {
		observability.RecordReplay("transport_error")
		return nil, err
	}
	if g.isExpired(resp.StatusCode) {
		drain(resp)
		observability.RecordReplay("rejected")
		g.log.Warn("session.replay.rejected", "method", req.Method, "url", req.URL.Redacted(), "request_id", at.requestID, "status", resp.StatusCode)
		return nil, &SessionExpiredError{Method: req.Method, URL: req.URL.Redacted(), Err: ErrUnauthorized}
	}
	observability.RecordReplay("ok")
	return resp, nil
}

// recover returns the credential to replay with. If another request already
// rotated the credential since this attempt was sent, no refresh is needed.
func (g *Gateway) recover(ctx context.Context, at *attempt) (credential.Token, error) {
	if cur := g.currentToken(); cur != "" && cur != at.token {
		g.log.Debug("session.replay.rotated", "request_id", at.requestID)
		return cur, nil
	}

	tok, err := g.refresher.Refresh(ctx)
	if err == nil {
		return tok, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return "", err
	}

	observability.RecordReplay("refresh_failed")
	g.log.Warn("session.replay.refresh_failed", "method", at.req.Method, "url", at.req.URL.Redacted(), "request_id", at.requestID, "err", err)
	if g.term != nil {
		g.term.Terminate("refresh_failed")
	}
	return "", &SessionExpiredError{Method: at.req.Method, URL: at.req.URL.Redacted(), Err: err}
}

func (g *Gateway) send(at *attempt, tok credential.Token) (*http.Response, error) {
	r, err := at.build(tok)
	if err != nil {
		return nil, err
	}
	return g.base.RoundTrip(r)
}

func (g *Gateway) currentToken() credential.Token {
	snap, ok := g.store.Get()
	if !ok {
		return ""
	}
	return snap.AccessToken
}

func (g *Gateway) isExpired(status int) bool {
	_, ok := g.expired[status]
	return ok
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
