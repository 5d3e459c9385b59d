package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arclink/cmd/internal/auth/credential"

	"github.com/alicebob/miniredis/v2"
)

func TestBuildCredentialBackend(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	cases := []struct {
		name string
		cfg  func(Config) Config
		want string
	}{
		{name: "memory", cfg: func(c Config) Config { c.Store = StoreMemory; return c }, want: "memory"},
		{name: "file", cfg: func(c Config) Config {
			c.Store = StoreFile
			c.StorePath = filepath.Join(t.TempDir(), "s.json")
			return c
		}, want: "file"},
		{name: "redis", cfg: func(c Config) Config {
			c.Store = StoreRedis
			c.RedisAddr = mr.Addr()
			return c
		}, want: "redis"},
	}

	for _, tc := range cases {
		b, res, err := buildCredentialBackend(t.Context(), tc.cfg(DefaultConfig()), quietLogger())
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if b.Name() != tc.want {
			t.Fatalf("%s: Name()=%q want=%q", tc.name, b.Name(), tc.want)
		}
		if err := res.Close(context.Background()); err != nil {
			t.Fatalf("%s: Close: %v", tc.name, err)
		}
	}
}

func TestBuildCredentialBackend_RedisRoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Store = StoreRedis
	cfg.RedisAddr = mr.Addr()
	cfg.RedisPrefix = "cli"

	b, res, err := buildCredentialBackend(t.Context(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("buildCredentialBackend: %v", err)
	}
	t.Cleanup(func() { _ = res.Close(context.Background()) })

	k := credential.NewKeeper(b, credential.WithLogger(quietLogger()))
	k.Set(credential.Snapshot{AccessToken: "tok", RefreshCapable: true, UpdatedAt: time.Now()})
	if !mr.Exists("cli:credential") {
		t.Fatalf("credential not written to redis")
	}

	reopened := credential.Open(t.Context(), b, credential.WithLogger(quietLogger()))
	if reopened.Token() != "tok" || !reopened.RefreshCapable() {
		t.Fatalf("reopened token=%q capable=%v", string(reopened.Token()), reopened.RefreshCapable())
	}
}

func TestBuildCredentialBackend_BadFileKey(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.StorePath = filepath.Join(t.TempDir(), "s.json")
	cfg.StoreKey = "not-hex"
	if _, _, err := buildCredentialBackend(t.Context(), cfg, quietLogger()); err == nil {
		t.Fatalf("expected error for malformed sealing key")
	}
}
