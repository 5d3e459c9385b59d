package app

import (
	"context"
	"fmt"
	"time"

	"arclink/cmd/internal/auth/credential"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// buildCredentialBackend selects the persistence layer for the credential
// store. The returned Store owns any client or pool it opened.
func buildCredentialBackend(ctx context.Context, cfg Config, log Logger) (credential.Backend, Store, error) {
	switch cfg.Store {
	case StoreMemory:
		log.Debug("credential.backend", "kind", StoreMemory)
		return credential.MemoryBackend{}, nopStore{}, nil

	case StoreFile:
		b, err := credential.NewFileBackend(cfg.StorePath, cfg.StoreKey)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("credential.backend", "kind", StoreFile, "path", b.Path(), "sealed", cfg.StoreKey != "")
		return b, nopStore{}, nil

	case StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		b, err := credential.NewRedisBackend(rdb, cfg.RedisPrefix, cfg.RedisTTL)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		log.Debug("credential.backend", "kind", StoreRedis, "key", b.Key())
		return b, closeFunc(func(context.Context) error { return rdb.Close() }), nil

	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("credential store: %w", err)
		}
		b, err := credential.NewPostgresBackend(pool, cfg.Profile)
		if err == nil {
			err = b.EnsureSchema(ctx)
		}
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("credential store: %w", err)
		}
		log.Debug("credential.backend", "kind", StorePostgres, "profile", cfg.Profile)
		return b, closeFunc(func(context.Context) error { pool.Close(); return nil }), nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown store %q", ErrConfig, cfg.Store)
	}
}

// NewDBPool builds a pgxpool and validates connectivity.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
