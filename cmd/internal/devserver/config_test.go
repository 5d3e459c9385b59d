package devserver

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Addr != ":8000" || cfg.APIPrefix != "/api/v1" || cfg.RefreshCookieName != "refresh_token" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("ARCLINK_DEV_ADDR", "127.0.0.1:9999")
	t.Setenv("ARCLINK_DEV_ACCESS_TTL", "30s")
	t.Setenv("ARCLINK_DEV_USERS", "alice:pw1, bob:pw2")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9999" || cfg.AccessTTL != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.Users) != 2 || cfg.Users["bob"] != "pw2" {
		t.Fatalf("users=%v", cfg.Users)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string]string{
		"ARCLINK_DEV_ACCESS_TTL": "soon",
		"ARCLINK_DEV_USERS":      "alice",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("%s=%q err=%v want=%v", k, v, err, ErrConfig)
			}
		})
	}
}

func TestConfigValidate_AccessMustBeShorter(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AccessTTL = cfg.RefreshTTL
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("Validate err=%v want=%v", err, ErrConfig)
	}
}
