package devserver

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config controls the development backend.
type Config struct {
	Addr string
	// APIPrefix is prepended to every HTTP API route.
	APIPrefix string

	Issuer    string
	AccessTTL time.Duration
	// ClockSkew is added to "now" when verifying access tokens.
	ClockSkew  time.Duration
	RefreshTTL time.Duration

	// PasetoSecretKeyHex is the v4.public signing key; empty generates an ephemeral key.
	PasetoSecretKeyHex string
	// RefreshHMACKey keys refresh token hashing; empty generates an ephemeral key.
	RefreshHMACKey string

	RefreshCookieName string
	CookiePath        string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// Users seeds the directory as username -> password.
	Users map[string]string

	// ReplyChunkDelay paces the streamed assistant reply.
	ReplyChunkDelay time.Duration
	WriteTimeout    time.Duration
	// RateEvents inbound frames are allowed per RateWindow on one channel connection.
	RateEvents int
	RateWindow time.Duration
}

// DefaultConfig returns a config suitable for local development.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8000",
		APIPrefix:         "/api/v1",
		Issuer:            "arclink-dev",
		AccessTTL:         5 * time.Minute,
		RefreshTTL:        24 * time.Hour,
		RefreshCookieName: "refresh_token",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteLaxMode,
		Users:             map[string]string{"demo": "demo-password"},
		ReplyChunkDelay:   40 * time.Millisecond,
		WriteTimeout:      5 * time.Second,
		RateEvents:        30,
		RateWindow:        10 * time.Second,
	}
}

// LoadConfigFromEnv overlays ARCLINK_DEV_* variables on DefaultConfig.
//
// Env surface:
// - ARCLINK_DEV_ADDR
// - ARCLINK_DEV_ACCESS_TTL, ARCLINK_DEV_REFRESH_TTL (Go durations)
// - ARCLINK_DEV_PASETO_SECRET_HEX
// - ARCLINK_DEV_REFRESH_HMAC_KEY
// - ARCLINK_DEV_COOKIE_SECURE (true/false)
// - ARCLINK_DEV_USERS ("alice:pw1,bob:pw2")
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := env("ARCLINK_DEV_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := env("ARCLINK_DEV_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: ARCLINK_DEV_ACCESS_TTL=%q", ErrConfig, v)
		}
		cfg.AccessTTL = d
	}
	if v := env("ARCLINK_DEV_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: ARCLINK_DEV_REFRESH_TTL=%q", ErrConfig, v)
		}
		cfg.RefreshTTL = d
	}
	cfg.PasetoSecretKeyHex = env("ARCLINK_DEV_PASETO_SECRET_HEX")
	cfg.RefreshHMACKey = env("ARCLINK_DEV_REFRESH_HMAC_KEY")
	if v := env("ARCLINK_DEV_COOKIE_SECURE"); v != "" {
		cfg.CookieSecure = v == "1" || strings.EqualFold(v, "true")
	}
	if v := env("ARCLINK_DEV_USERS"); v != "" {
		users, err := parseUsers(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Users = users
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("%w: access ttl must be shorter than refresh ttl", ErrConfig)
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" {
		return fmt.Errorf("%w: empty refresh cookie name", ErrConfig)
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("%w: api prefix must start with /", ErrConfig)
	}
	return nil
}

func parseUsers(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pw, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(name) == "" || pw == "" {
			return nil, fmt.Errorf("%w: ARCLINK_DEV_USERS entry %q must be name:password", ErrConfig, pair)
		}
		out[strings.TrimSpace(name)] = pw
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: ARCLINK_DEV_USERS is empty", ErrConfig)
	}
	return out, nil
}

func env(key string) string { return strings.TrimSpace(os.Getenv(key)) }
