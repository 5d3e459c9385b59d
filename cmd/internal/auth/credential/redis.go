package credential

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisFieldAccess         = "access"
	redisFieldRefreshCapable = "refresh_capable"
	redisFieldUpdatedAt      = "updated_at"
)

// RedisBackend stores the snapshot as a Redis hash under "<prefix>:credential".
type RedisBackend struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisBackend returns a Redis-backed store. A ttl of zero keeps the key forever.
func NewRedisBackend(rdb redis.UniversalClient, prefix string, ttl time.Duration) (*RedisBackend, error) {
	if rdb == nil {
		return nil, errors.New("credential: nil redis client")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "arclink"
	}
	return &RedisBackend{rdb: rdb, key: prefix + ":credential", ttl: ttl}, nil
}

// Name implements Backend.
func (b *RedisBackend) Name() string { return "redis" }

// Key returns the Redis key used by the backend.
func (b *RedisBackend) Key() string { return b.key }

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) (Snapshot, error) {
	vals, err := b.rdb.HGetAll(ctx, b.key).Result()
	if err != nil {
		return Snapshot{}, err
	}
	access := vals[redisFieldAccess]
	if access == "" {
		return Snapshot{}, ErrNotFound
	}

	s := Snapshot{AccessToken: Token(access)}
	s.RefreshCapable, _ = strconv.ParseBool(vals[redisFieldRefreshCapable])
	if ts := vals[redisFieldUpdatedAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			s.UpdatedAt = t
		}
	}
	return s, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, s Snapshot) error {
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.key)
		p.HSet(ctx, b.key,
			redisFieldAccess, string(s.AccessToken),
			redisFieldRefreshCapable, strconv.FormatBool(s.RefreshCapable),
			redisFieldUpdatedAt, s.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		if b.ttl > 0 {
			p.Expire(ctx, b.key, b.ttl)
		}
		return nil
	})
	return err
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context) error {
	return b.rdb.Del(ctx, b.key).Err()
}
