package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/database"
)

const tokenRequestsKey = "api_token:counters:requests"

// TokenUsage buffers per-token request counts in a Redis hash and periodically
// applies them to api_tokens.request_count.
type TokenUsage struct {
	rdb *redis.Client
	db  *gorm.DB
}

// NewTokenUsage uses the shared cache client and database when nil is passed.
func NewTokenUsage(rdb *redis.Client, db *gorm.DB) *TokenUsage {
	return &TokenUsage{rdb: rdb, db: db}
}

func (u *TokenUsage) client() *redis.Client {
	if u.rdb != nil {
		return u.rdb
	}
	return cache.GetClient()
}

func (u *TokenUsage) database() *gorm.DB {
	if u.db != nil {
		return u.db
	}
	return database.GetDB()
}

// RecordTokenRequest increments the pending request counter for a token
func (u *TokenUsage) RecordTokenRequest(tokenID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(tokenID), 10)
	return u.client().HIncrBy(ctx, tokenRequestsKey, field, 1).Err()
}

// Flush drains pending counters into the database.
func (u *TokenUsage) Flush(ctx context.Context) error {
	return u.flushHashToTable(ctx, tokenRequestsKey, "api_tokens", "request_count")
}

// flushHashToTable drains a Redis hash atomically and applies batched increments.
// Uses RENAME to a temporary key for atomic drain without losing in-flight increments.
func (u *TokenUsage) flushHashToTable(ctx context.Context, redisKey, table, column string) error {
	rdb := u.client()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Rename(ctx, redisKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	pairs := parseIncrements(data)
	if len(pairs) == 0 {
		return nil
	}

	sql, args := buildIncrementSQL(table, column, pairs)
	return u.database().WithContext(ctx).Exec(sql, args...).Error
}

type increment struct {
	id  uint64
	inc int64
}

// parseIncrements skips malformed and zero entries and sorts by id for stable SQL.
func parseIncrements(data map[string]string) []increment {
	pairs := make([]increment, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, increment{id: id, inc: inc})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
	return pairs
}

// buildIncrementSQL composes
// UPDATE <table> SET <column> = <column> + CASE id WHEN ? THEN ? ... END WHERE id IN (...)
func buildIncrementSQL(table, column string, pairs []increment) (string, []interface{}) {
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE ")
	builder.WriteString(table)
	builder.WriteString(" SET ")
	builder.WriteString(column)
	builder.WriteString(" = ")
	builder.WriteString(column)
	builder.WriteString(" + CASE id")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.id, p.inc)
	}
	builder.WriteString(" END WHERE id IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.id)
	}
	builder.WriteString(")")
	return builder.String(), args
}
