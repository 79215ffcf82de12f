package stores

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore backs the rate limiter with Redis window counters
// (key: classlab:rl:{category}:{key}). The first increment of a window
// starts its expiry.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "classlab:"}
}

func (r *RedisCounterStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	k := r.key(key)
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, k, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		// A counter that lost its expiry must not throttle forever.
		_ = r.client.PExpire(ctx, k, window).Err()
		ttl = window
	}
	return count, ttl, nil
}
