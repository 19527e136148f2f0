package payment

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard claims an order while one of its notifications is being
// processed.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayGuard implements ReplayGuard using Redis SETNX semantics.
type RedisReplayGuard struct {
	Client redis.Cmdable
	Prefix string
}

func (g RedisReplayGuard) key(k string) string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "xmoney:ipn:"
	}
	return prefix + k
}

// Acquire claims key for ttl. Without a client every delivery is accepted.
func (g RedisReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.Client == nil {
		return true, nil
	}
	return g.Client.SetNX(ctx, g.key(key), time.Now().Unix(), ttl).Result()
}

// Release drops the claim once processing finishes.
func (g RedisReplayGuard) Release(ctx context.Context, key string) error {
	if g.Client == nil {
		return nil
	}
	return g.Client.Del(ctx, g.key(key)).Err()
}
