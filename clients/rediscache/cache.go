package rediscache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"tippelaget/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key names under the configured prefix.
const (
	KeyRecords  = "records"
	KeySnapshot = "snapshot"
)

// Cache stores fetched records and the last computed snapshot in Redis.
// A cache without a client or with a zero TTL never hits.
type Cache struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	ttl    atomic.Int64 // time.Duration
}

// New connects using cfg.Redis.URL. An empty URL yields a disabled cache.
func New(logger *zap.Logger, cfg *config.Config) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Redis.URL == "" {
		logger.Info("REDIS_URL not set, snapshot cache disabled")
		return NewWithClient(logger, nil, cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL), nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	logger.Info("redis cache initialized",
		zap.String("addr", opts.Addr),
		zap.Duration("ttl", cfg.Redis.SnapshotTTL),
	)
	return NewWithClient(logger, redis.NewClient(opts), cfg.Redis.KeyPrefix, cfg.Redis.SnapshotTTL), nil
}

func NewWithClient(logger *zap.Logger, client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{logger: logger, client: client, prefix: prefix}
	c.ttl.Store(int64(ttl))
	return c
}

// Enabled reports whether reads can hit.
func (c *Cache) Enabled() bool {
	return c.client != nil && c.ttl.Load() > 0
}

// SetTTL changes the expiry used for later writes. Zero disables the cache.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.ttl.Store(int64(ttl))
}

func (c *Cache) key(name string) string {
	if c.prefix == "" {
		return name
	}
	return c.prefix + ":" + name
}

// GetJSON decodes the cached value into dest. Numbers decode as json.Number.
// A miss returns false with a nil error.
func (c *Cache) GetJSON(ctx context.Context, name string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	raw, err := c.client.Get(ctx, c.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", name, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", name, err)
	}
	return true, nil
}

// SetJSON stores v for the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, name string, v any) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := c.client.Set(ctx, c.key(name), string(data), time.Duration(c.ttl.Load())).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// Invalidate drops the cached records and snapshot.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, c.key(KeyRecords), c.key(KeySnapshot)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
