package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/kirinyoku/cinego/internal/domain"
)

// Cache is a read-through JSON cache for data that is expensive to build and
// tolerates staleness up to its TTL (movie details, screen layouts).
//
// Redis is an optimisation only: when it fails, reads go straight to the loader
// and the failure is logged.
type Cache struct {
	rdb    *redis.Client
	sf     singleflight.Group
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{rdb: client, logger: logger}
}

func (c *Cache) get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// fill stores v only if key is empty, so a loader that read the database
// before a write committed cannot overwrite what the writer put back.
func (c *Cache) fill(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.SetNX(ctx, key, string(raw), ttl).Err()
}

// GetOrSetJSON returns the cached value under key or builds it with loader and
// stores it for ttl. Concurrent misses on one key share a single loader call.
// Only loader errors are returned.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	var cached T
	ok, err := c.get(ctx, key, &cached)
	switch {
	case ok:
		return cached, nil
	case err != nil:
		c.logger.Warn("cache read failed", "key", key, "err", err)
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		fresh, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.fill(ctx, key, fresh, ttl); err != nil {
			c.logger.Warn("cache write failed", "key", key, "err", err)
		}
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	return v.(T), nil
}

// PutScreen overwrites the cached layout with one that was just committed.
func (c *Cache) PutScreen(ctx context.Context, sc domain.Screen, ttl time.Duration) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, KeyScreen(sc.ID), string(raw), ttl).Err()
}

// InvalidateScreen drops a cached layout.
func (c *Cache) InvalidateScreen(ctx context.Context, screenID string) error {
	return c.rdb.Del(ctx, KeyScreen(screenID)).Err()
}
