package credential

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when ARCLINK_DATABASE_URL is set.

func TestPostgresBackend_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dbURL := os.Getenv("ARCLINK_DATABASE_URL")
	if dbURL == "" {
		t.Skip("ARCLINK_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}

	profile := "test-" + ulid.Make().String()
	b, err := NewPostgresBackend(pool, profile)
	if err != nil {
		t.Fatalf("NewPostgresBackend: %v", err)
	}
	if err := b.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() { _ = b.Delete(context.Background()) })

	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load empty err=%v want ErrNotFound", err)
	}

	ts := time.Now().UTC().Truncate(time.Microsecond)
	if err := b.Save(ctx, Snapshot{AccessToken: "pg-1", RefreshCapable: true, UpdatedAt: ts}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ctx, Snapshot{AccessToken: "pg-2", RefreshCapable: false, UpdatedAt: ts}); err != nil {
		t.Fatalf("Save (upsert): %v", err)
	}

	s, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.AccessToken != "pg-2" || s.RefreshCapable || !s.UpdatedAt.Equal(ts) {
		t.Fatalf("Load()=%+v", s)
	}

	if err := b.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Delete err=%v want ErrNotFound", err)
	}
}
