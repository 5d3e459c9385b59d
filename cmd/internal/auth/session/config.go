package session

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Endpoints are the auth routes relative to Config.BaseURL.
type Endpoints struct {
	Login   string
	Refresh string
	Logout  string
	Me      string
}

// Config controls the auth API client, the refresh coordinator and the gateway.
type Config struct {
	// BaseURL is the API root; endpoint paths are resolved against it.
	BaseURL string

	Endpoints Endpoints

	// Timeout bounds every one-shot auth call.
	Timeout time.Duration

	// RefreshTimeout bounds the shared refresh call independently of any single caller.
	RefreshTimeout time.Duration

	// ExpiredStatuses are the response codes treated as authorization-expired.
	ExpiredStatuses []int

	// UserAgent is sent on every request when non-empty.
	UserAgent string
}

// DefaultConfig mirrors the service's default routes.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000/api/v1",
		Endpoints: Endpoints{
			Login:   "/auth/jwt/create/",
			Refresh: "/auth/jwt/refresh/",
			Logout:  "/auth/jwt/logout/",
			Me:      "/auth/users/me/",
		},
		Timeout:         10 * time.Second,
		RefreshTimeout:  10 * time.Second,
		ExpiredStatuses: []int{401},
		UserAgent:       "arclink/1",
	}
}

// Validate checks the config and fills zero values from DefaultConfig.
func (c Config) Validate() (Config, error) {
	def := DefaultConfig()

	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.BaseURL == "" {
		return Config{}, fmt.Errorf("%w: empty base url", ErrConfig)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Config{}, fmt.Errorf("%w: base url must be http(s)://host[/path], got %q", ErrConfig, c.BaseURL)
	}

	if c.Endpoints.Login == "" {
		c.Endpoints.Login = def.Endpoints.Login
	}
	if c.Endpoints.Refresh == "" {
		c.Endpoints.Refresh = def.Endpoints.Refresh
	}
	if c.Endpoints.Logout == "" {
		c.Endpoints.Logout = def.Endpoints.Logout
	}
	if c.Endpoints.Me == "" {
		c.Endpoints.Me = def.Endpoints.Me
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = def.RefreshTimeout
	}
	if len(c.ExpiredStatuses) == 0 {
		c.ExpiredStatuses = def.ExpiredStatuses
	}
	for _, s := range c.ExpiredStatuses {
		if s < 400 || s > 499 {
			return Config{}, fmt.Errorf("%w: expired status %d is not a 4xx code", ErrConfig, s)
		}
	}
	return c, nil
}
