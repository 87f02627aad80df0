package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
)

const redisKeyPrefix = "ratelimit:"

// RedisStore shares windows between instances. Each window is one counter key
// whose TTL is the window length, so Redis drops expired windows itself.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore uses client, or the shared cache client when nil.
func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		client = cache.GetClient()
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Window, bool, error) {
	rkey := redisKeyPrefix + key
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, rkey)
	ttlCmd := pipe.PTTL(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Window{}, false, err
	}

	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, err
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return Window{}, false, err
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}
	return Window{Count: count, ResetAt: time.Now().Add(ttl)}, true, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	rkey := redisKeyPrefix + key

	n, err := s.client.Incr(ctx, rkey).Result()
	if err != nil {
		return Window{}, err
	}
	if n == 1 {
		if err := s.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return Window{}, err
		}
		return Window{Count: 1, ResetAt: now.Add(window)}, nil
	}

	ttl, err := s.client.PTTL(ctx, rkey).Result()
	if err != nil {
		return Window{}, err
	}
	if ttl < 0 {
		// Counter lost its expiry; restart the window from here.
		if err := s.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return Window{}, err
		}
		ttl = window
	}
	return Window{Count: int(n), ResetAt: now.Add(ttl)}, nil
}

// Expire is a no-op; Redis key TTLs drop expired windows.
func (s *RedisStore) Expire(context.Context, time.Time) (int, error) {
	return 0, nil
}
