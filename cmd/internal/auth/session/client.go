package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"arclink/cmd/internal/auth/credential"
)

const maxResponseBytes = 1 << 20

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Access credential.Token
	// User is nil when the service omitted the profile from the login response.
	User *User
}

// APIClient performs the one-shot auth calls. It never goes through the
// Gateway, so a 401 from login or refresh cannot trigger another refresh.
type APIClient struct {
	cfg  Config
	base *url.URL
	jar  *Jar
	hc   *http.Client
}

// NewAPIClient builds a client with its own cookie jar. A nil transport
// uses http.DefaultTransport.
func NewAPIClient(cfg Config, transport http.RoundTripper) (*APIClient, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	jar := NewJar()
	return &APIClient{
		cfg:  cfg,
		base: base,
		jar:  jar,
		hc: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Config returns the validated config.
func (c *APIClient) Config() Config { return c.cfg }

// Jar is the cookie jar shared with every client built on this APIClient.
func (c *APIClient) Jar() *Jar { return c.jar }

// Transport is the underlying round tripper.
func (c *APIClient) Transport() http.RoundTripper { return c.hc.Transport }

// URL resolves an endpoint path against the base URL. Absolute URLs pass through.
func (c *APIClient) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

// Login exchanges username and password for an access credential. The
// refresh capability arrives as an HttpOnly cookie stored in the jar.
func (c *APIClient) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out loginResponse
	err := c.do(ctx, "login", http.MethodPost, c.cfg.Endpoints.Login, "", loginRequest{Username: username, Password: password}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Expired || se.Status == http.StatusBadRequest) {
			return LoginResult{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return LoginResult{}, err
	}
	if strings.TrimSpace(out.Access) == "" {
		return LoginResult{}, &StatusError{Op: "login", Status: http.StatusOK, Message: "response carried no access credential"}
	}
	return LoginResult{Access: credential.Token(out.Access), User: out.User}, nil
}

// Refresh asks the service for a new access credential using the refresh cookie.
func (c *APIClient) Refresh(ctx context.Context) (credential.Token, error) {
	var out refreshResponse
	if err := c.do(ctx, "refresh", http.MethodPost, c.cfg.Endpoints.Refresh, "", struct{}{}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Access) == "" {
		return "", &StatusError{Op: "refresh", Status: http.StatusOK, Message: "response carried no access credential"}
	}
	return credential.Token(out.Access), nil
}

// Logout tells the service to destroy the session.
func (c *APIClient) Logout(ctx context.Context, tok credential.Token) error {
	return c.do(ctx, "logout", http.MethodPost, c.cfg.Endpoints.Logout, tok, struct{}{}, nil)
}

// CurrentUser fetches the profile for tok. A rejected credential matches ErrUnauthorized.
func (c *APIClient) CurrentUser(ctx context.Context, tok credential.Token) (User, error) {
	var u User
	if err := c.do(ctx, "current_user", http.MethodGet, c.cfg.Endpoints.Me, tok, nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// ForgetCookies drops every cookie, including the refresh cookie.
func (c *APIClient) ForgetCookies() { c.jar.Reset() }

func (c *APIClient) do(ctx context.Context, op, method, path string, tok credential.Token, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+string(tok))
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: %w: read body: %v", op, ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Op: op, Status: resp.StatusCode, Expired: c.isExpired(resp.StatusCode)}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil {
			se.Message = er.message()
		}
		return se
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *APIClient) isExpired(status int) bool {
	for _, s := range c.cfg.ExpiredStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Jar is a cookie jar that can be emptied. net/http/cookiejar has no clear
// operation, so Reset swaps in a fresh jar.
type Jar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

// NewJar returns an empty Jar.
func NewJar() *Jar {
	j, _ := cookiejar.New(nil)
	return &Jar{inner: j}
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	inner := j.inner
	j.mu.RUnlock()
	inner.SetCookies(u, cookies)
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	inner := j.inner
	j.mu.RUnlock()
	return inner.Cookies(u)
}

// Reset drops every stored cookie.
func (j *Jar) Reset() {
	fresh, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.inner = fresh
	j.mu.Unlock()
}
