package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

// Config describes one fixed-window limit.
type Config struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

var (
	// DefaultConfig applies to general API traffic.
	DefaultConfig = Config{Name: "default", MaxRequests: 100, Window: time.Minute}

	// StrictConfig applies to payment initiating endpoints.
	StrictConfig = Config{Name: "strict", MaxRequests: 10, Window: time.Minute}
)

// Window is the counter state for one key.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether the window no longer applies at now.
func (w Window) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt)
}

// Store keeps window counters. Increment must be atomic per key: it starts a
// fresh window (count 1, reset now+window) when none exists or the current one
// expired, and increments otherwise.
type Store interface {
	Get(ctx context.Context, key string) (Window, bool, error)
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Window, error)
	Expire(ctx context.Context, now time.Time) (int, error)
}

// Result is the outcome of a single check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter applies a Config on top of a Store.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// NewLimiter creates a limiter. Non-positive limits fall back to DefaultConfig values.
func NewLimiter(cfg Config, store Store) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig.Window
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig.Name
	}
	return &Limiter{cfg: cfg, store: store, now: time.Now}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Allow counts one request for key and reports whether it may proceed.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if strings.TrimSpace(key) == "" {
		return Result{}, errors.New("rate limit key is required")
	}
	now := l.now()
	w, err := l.store.Increment(ctx, l.cfg.Name+":"+key, l.cfg.Window, now)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Limit:   l.cfg.MaxRequests,
		ResetAt: w.ResetAt,
	}
	if w.Count > l.cfg.MaxRequests {
		res.Remaining = 0
		res.RetryAfter = w.ResetAt.Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
		return res, nil
	}
	res.Allowed = true
	res.Remaining = l.cfg.MaxRequests - w.Count
	return res, nil
}

// Sweep drops expired windows from the store.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Expire(ctx, l.now())
}

// NewStoreFromEnv selects the store named by RATE_LIMIT_STORE ("memory" or "redis").
func NewStoreFromEnv() Store {
	switch strings.ToLower(env.GetEnv("RATE_LIMIT_STORE", "memory")) {
	case "redis":
		return NewRedisStore(nil)
	default:
		return NewMemoryStore()
	}
}

// ConfigFromEnv overrides base with RATE_LIMIT_<NAME>_MAX and RATE_LIMIT_<NAME>_WINDOW.
func ConfigFromEnv(base Config) Config {
	prefix := "RATE_LIMIT_" + strings.ToUpper(base.Name)
	base.MaxRequests = env.GetEnvInt(prefix+"_MAX", base.MaxRequests)
	base.Window = env.GetEnvDuration(prefix+"_WINDOW", base.Window)
	return base
}
