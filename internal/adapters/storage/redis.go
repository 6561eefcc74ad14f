package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPrefix is the default key namespace; claims land at <prefix>:dedup:<key>.
const RedisPrefix = "wxbot"

// RedisDedup implements ports.DedupStore on SET NX so several bot processes
// sharing one Redis claim each opportunity once.
type RedisDedup struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDedup connects and pings. ttl bounds how long a claim is kept;
// it must outlive a cycle.
func NewRedisDedup(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisDedup, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage.NewRedisDedup: ping %s: %w", addr, err)
	}
	if prefix == "" {
		prefix = RedisPrefix
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisDedup{client: client, prefix: prefix, ttl: ttl}, nil
}

// Claim stores key with SET NX; true only for the first caller.
func (r *RedisDedup) Claim(ctx context.Context, key string, at time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+":dedup:"+key, at.UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("storage.RedisDedup.Claim: %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the Redis connection.
func (r *RedisDedup) Close() error {
	return r.client.Close()
}
