package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock, *MemoryStore) {
	clock := &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	l := NewLimiter(cfg, store)
	l.now = clock.Now
	return l, clock, store
}

func TestLimiterWindowBoundary(t *testing.T) {
	ctx := context.Background()
	l, clock, _ := newTestLimiter(Config{Name: "t", MaxRequests: 10, Window: 60 * time.Second})

	for i := 1; i <= 10; i++ {
		res, err := l.Allow(ctx, "token-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 10-i, res.Remaining)
		assert.Equal(t, 10, res.Limit)
	}

	clock.Advance(15 * time.Second)
	res, err := l.Allow(ctx, "token-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 45*time.Second, res.RetryAfter)

	clock.Advance(45 * time.Second)
	res, err = l.Allow(ctx, "token-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
	assert.Equal(t, clock.Now().Add(60*time.Second), res.ResetAt)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLimiter(Config{Name: "t", MaxRequests: 1, Window: time.Minute})

	res, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterRejectsEmptyKey(t *testing.T) {
	l, _, _ := newTestLimiter(DefaultConfig)
	_, err := l.Allow(context.Background(), "  ")
	assert.Error(t, err)
}

func TestNewLimiterDefaults(t *testing.T) {
	l := NewLimiter(Config{}, NewMemoryStore())
	assert.Equal(t, DefaultConfig, l.Config())
	assert.Equal(t, 100, DefaultConfig.MaxRequests)
	assert.Equal(t, 10, StrictConfig.MaxRequests)
	assert.Equal(t, time.Minute, StrictConfig.Window)
}

func TestLimiterSweepRemovesExpiredWindows(t *testing.T) {
	ctx := context.Background()
	l, clock, store := newTestLimiter(Config{Name: "t", MaxRequests: 5, Window: time.Minute})

	_, err := l.Allow(ctx, "old")
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	_, err = l.Allow(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	clock.Advance(31 * time.Second)
	removed, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	_, ok, err := store.Get(ctx, "t:fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterNeverOverAdmitsUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLimiter(Config{Name: "t", MaxRequests: 25, Window: time.Minute})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "shared")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 25, allowed)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_STRICT_MAX", "3")
	t.Setenv("RATE_LIMIT_STRICT_WINDOW", "30s")

	cfg := ConfigFromEnv(StrictConfig)
	assert.Equal(t, "strict", cfg.Name)
	assert.Equal(t, 3, cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Window)

	assert.Equal(t, DefaultConfig, ConfigFromEnv(DefaultConfig))
}
