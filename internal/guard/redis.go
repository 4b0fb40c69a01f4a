package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisGuard shares the lock across processes (API server and workers).
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// NewRedisGuardFromURL parses a redis:// URL and checks the connection.
func NewRedisGuardFromURL(ctx context.Context, url string) (*RedisGuard, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisGuard{client: client}, nil
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		// The caller's context may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, g.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			slog.Warn("Failed to release guard", "key", key, "error", err)
		}
	}, true, nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
