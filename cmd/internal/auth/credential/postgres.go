package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend stores one snapshot per profile in arclink.credentials.
// The pool is owned by the caller.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	profile string
}

// NewPostgresBackend returns a Postgres-backed store for the given profile.
func NewPostgresBackend(pool *pgxpool.Pool, profile string) (*PostgresBackend, error) {
	if pool == nil {
		return nil, errors.New("credential: nil db pool")
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = "default"
	}
	return &PostgresBackend{pool: pool, profile: profile}, nil
}

// EnsureSchema creates the credentials table when missing.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS arclink;
		CREATE TABLE IF NOT EXISTS arclink.credentials (
			profile         TEXT PRIMARY KEY,
			access_token    TEXT NOT NULL,
			refresh_capable BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at      TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

// Name implements Backend.
func (b *PostgresBackend) Name() string { return "postgres" }

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context) (Snapshot, error) {
	var (
		s      Snapshot
		access string
	)
	err := b.pool.QueryRow(ctx, `
		SELECT access_token, refresh_capable, updated_at
		FROM arclink.credentials
		WHERE profile = $1
	`, b.profile).Scan(&access, &s.RefreshCapable, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	s.AccessToken = Token(access)
	return s, nil
}

// Save implements Backend.
func (b *PostgresBackend) Save(ctx context.Context, s Snapshot) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO arclink.credentials (profile, access_token, refresh_capable, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (profile) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_capable = EXCLUDED.refresh_capable,
			updated_at = EXCLUDED.updated_at
	`, b.profile, string(s.AccessToken), s.RefreshCapable, s.UpdatedAt.UTC())
	return err
}

// Delete implements Backend.
func (b *PostgresBackend) Delete(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM arclink.credentials WHERE profile = $1`, b.profile)
	return err
}
