// Package cache stores derived report data in Redis.
//
// Entries are never deleted directly. Each key embeds a global generation and
// a per-identity generation; bumping either one makes the old keys
// unreachable and they expire on their TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/presence/internal/config"
)

const (
	keyPrefix = "presence:report"
	globalGen = keyPrefix + ":gen"
)

func identityGenKey(identityID int64) string {
	return fmt.Sprintf("%s:gen:%d", keyPrefix, identityID)
}

type ReportCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReportCache(rdb *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{rdb: rdb, ttl: ttl}
}

// Connect opens a Redis client and retries the initial ping.
func Connect(ctx context.Context, cfg config.RedisConfig, attempts int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return rdb, nil
		}
		slog.Warn("redis ping failed", "attempt", i, "error", err)
		select {
		case <-ctx.Done():
			_ = rdb.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i) * time.Second):
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("connect redis at %s: %w", cfg.Addr, err)
}

// Get looks key up under the current generations. The returned slot is the
// generation-qualified key; Set writes to exactly that slot, so a value
// computed before an invalidation stays in the old generation.
func (c *ReportCache) Get(ctx context.Context, identityID int64, key string) (val []byte, slot string, ok bool, err error) {
	slot, err = c.dataKey(ctx, identityID, key)
	if err != nil {
		return nil, "", false, err
	}
	val, err = c.rdb.Get(ctx, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, slot, false, nil
	}
	if err != nil {
		return nil, slot, false, fmt.Errorf("get %s: %w", slot, err)
	}
	return val, slot, true, nil
}

func (c *ReportCache) Set(ctx context.Context, slot string, val []byte) error {
	if slot == "" {
		return errors.New("set report: empty cache slot")
	}
	if err := c.rdb.Set(ctx, slot, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", slot, err)
	}
	return nil
}

// Invalidate drops every cached report of one identity.
func (c *ReportCache) Invalidate(ctx context.Context, identityID int64) error {
	if err := c.rdb.Incr(ctx, identityGenKey(identityID)).Err(); err != nil {
		return fmt.Errorf("bump report generation for %d: %w", identityID, err)
	}
	return nil
}

// InvalidateAll drops every cached report.
func (c *ReportCache) InvalidateAll(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, globalGen).Err(); err != nil {
		return fmt.Errorf("bump report generation: %w", err)
	}
	return nil
}

func (c *ReportCache) dataKey(ctx context.Context, identityID int64, key string) (string, error) {
	vals, err := c.rdb.MGet(ctx, globalGen, identityGenKey(identityID)).Result()
	if err != nil {
		return "", fmt.Errorf("read report generations: %w", err)
	}
	return fmt.Sprintf("%s:%d:%s:%s:%s", keyPrefix, identityID, gen(vals[0]), gen(vals[1]), key), nil
}

func gen(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "0"
}

func (c *ReportCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
