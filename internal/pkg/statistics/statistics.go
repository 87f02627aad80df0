package statistics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	CacheKeyMembership = "statistics:membership"
	CacheExpiration    = 5 * time.Minute
)

// MembershipStats is the admin dashboard summary.
type MembershipStats struct {
	TotalUsers            int64            `json:"total_users"`
	UsersByTier           map[string]int64 `json:"users_by_tier"`
	SubscriptionsByStatus map[string]int64 `json:"subscriptions_by_status"`
	ApiTokens             int64            `json:"api_tokens"`
	GeneratedAt           time.Time        `json:"generated_at"`
}

type UserCounter interface {
	Count() (int64, error)
	CountByTier() (map[string]int64, error)
}

type SubscriptionCounter interface {
	CountByStatus() (map[string]int64, error)
}

type TokenCounter interface {
	Count() (int64, error)
}

// Collector computes membership statistics and caches them in Redis.
// A nil Redis client disables caching.
type Collector struct {
	users  UserCounter
	subs   SubscriptionCounter
	tokens TokenCounter
	rdb    *redis.Client

	mu  sync.Mutex
	now func() time.Time
}

func NewCollector(users UserCounter, subs SubscriptionCounter, tokens TokenCounter, rdb *redis.Client) *Collector {
	return &Collector{users: users, subs: subs, tokens: tokens, rdb: rdb, now: time.Now}
}

// Get returns cached statistics when available, otherwise recomputes them.
func (c *Collector) Get(ctx context.Context) (*MembershipStats, error) {
	if cached, ok := c.cached(ctx); ok {
		return cached, nil
	}
	return c.Refresh(ctx)
}

// Refresh recomputes the statistics from the database and updates the cache.
func (c *Collector) Refresh(ctx context.Context) (*MembershipStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total, err := c.users.Count()
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	byTier, err := c.users.CountByTier()
	if err != nil {
		return nil, fmt.Errorf("count users by tier: %w", err)
	}
	byStatus, err := c.subs.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	tokens, err := c.tokens.Count()
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}

	stats := &MembershipStats{
		TotalUsers:            total,
		UsersByTier:           byTier,
		SubscriptionsByStatus: byStatus,
		ApiTokens:             tokens,
		GeneratedAt:           c.now().UTC(),
	}

	if c.rdb != nil {
		data, err := json.Marshal(stats)
		if err == nil {
			err = c.rdb.Set(ctx, CacheKeyMembership, data, CacheExpiration).Err()
		}
		if err != nil {
			log.Warnf("[Statistics] Failed to cache membership stats: %v", err)
		}
	}
	return stats, nil
}

// Invalidate drops the cached statistics.
func (c *Collector) Invalidate(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, CacheKeyMembership).Err(); err != nil {
		log.Warnf("[Statistics] Failed to invalidate cache: %v", err)
	}
}

func (c *Collector) cached(ctx context.Context) (*MembershipStats, bool) {
	if c.rdb == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, CacheKeyMembership).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Statistics] Cache read failed: %v", err)
		}
		return nil, false
	}
	var stats MembershipStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false
	}
	return &stats, true
}
