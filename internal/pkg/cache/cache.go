package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

// Databases on the shared Redis server.
const (
	DBCache   = 0
	DBSession = 1
	DBOAuth   = 2
)

var client *redis.Client

// Options reads the connection settings from CACHE_HOST, CACHE_PORT and
// CACHE_PASSWORD.
func Options() *redis.Options {
	return &redis.Options{
		Addr:     net.JoinHostPort(env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Username: env.GetEnv("CACHE_USERNAME", ""),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       DBCache,
	}
}

// SetupCache opens the shared client. An unreachable server is logged, not
// fatal: go-redis reconnects on the next command.
func SetupCache() {
	client = redis.NewClient(Options())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("[Cache] Redis at %s unreachable: %v", client.Options().Addr, err)
		return
	}
	log.Infof("[Cache] Connected to Redis at %s", client.Options().Addr)
}

func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// SetClient replaces the shared client, used by tests and alternative wiring.
func SetClient(c *redis.Client) {
	client = c
}

// Storage returns a fiber storage on database db of the shared server.
func Storage(db int) *redisstorage.Storage {
	return redisstorage.New(StorageConfig(GetClient().Options(), db))
}

// StorageConfig maps go-redis options onto the fiber storage config.
func StorageConfig(opts *redis.Options, db int) redisstorage.Config {
	host, port := splitAddr(opts.Addr)
	return redisstorage.Config{
		Host:     host,
		Port:     port,
		Username: opts.Username,
		Password: opts.Password,
		Database: db,
	}
}

func splitAddr(addr string) (string, int) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		if addr == "" {
			return "localhost", 6379
		}
		return addr, 6379
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// Ping checks the shared client within ctx.
func Ping(ctx context.Context, c *redis.Client) error {
	if c == nil {
		return fmt.Errorf("redis client not configured")
	}
	return c.Ping(ctx).Err()
}
