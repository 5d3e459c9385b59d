package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestConfig_ValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Config{BaseURL: "https://api.example.test/v1"}.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	def := DefaultConfig()
	if cfg.Endpoints != def.Endpoints {
		t.Fatalf("expected default endpoints, got %+v", cfg.Endpoints)
	}
	if cfg.Timeout != 10*time.Second || len(cfg.ExpiredStatuses) != 1 || cfg.ExpiredStatuses[0] != 401 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{BaseURL: ""},
		{BaseURL: "ftp://example.test"},
		{BaseURL: "http://"},
		{BaseURL: "http://example.test", ExpiredStatuses: []int{500}},
	}
	for _, c := range cases {
		if _, err := c.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("expected ErrConfig for %+v, got %v", c, err)
		}
	}
}

func TestAPIClient_URL(t *testing.T) {
	t.Parallel()

	c, err := NewAPIClient(Config{BaseURL: "http://localhost:8000/api/v1/"}, nil)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	if got := c.URL("/auth/users/me/"); got != "http://localhost:8000/api/v1/auth/users/me/" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := c.URL("https://other.test/x"); got != "https://other.test/x" {
		t.Fatalf("absolute url must pass through, got %q", got)
	}
}

func TestAPIClient_StatusErrorCarriesMessage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "account disabled"})
	}))
	t.Cleanup(srv.Close)

	c, err := NewAPIClient(Config{BaseURL: srv.URL, ExpiredStatuses: []int{401, 403}}, nil)
	if err != nil {
		t.Fatalf("NewAPIClient: %v", err)
	}
	_, err = c.CurrentUser(t.Context(), "tok")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusForbidden || se.Message != "account disabled" {
		t.Fatalf("unexpected status error %+v", se)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("403 is configured as expired and must match ErrUnauthorized")
	}
}

func TestAPIClient_RefreshUsesCookie(t *testing.T) {
	h := newHarness(t)
	h.login(t)

	tok, err := h.api.Refresh(t.Context())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok == "" {
		t.Fatalf("expected a token")
	}

	h.api.ForgetCookies()
	if _, err := h.api.Refresh(t.Context()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected refresh without cookie to be unauthorized, got %v", err)
	}
}

func TestJar_Reset(t *testing.T) {
	t.Parallel()

	j := NewJar()
	u, _ := url.Parse("http://example.test/")
	j.SetCookies(u, []*http.Cookie{{Name: "a", Value: "b"}})
	if len(j.Cookies(u)) != 1 {
		t.Fatalf("expected cookie stored")
	}
	j.Reset()
	if len(j.Cookies(u)) != 0 {
		t.Fatalf("expected empty jar after reset")
	}
}
