// Package redisstore wraps the Redis operations used by the measure store.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/measure-badges/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// canonical decimals compare by length first, then lexically
var hsetIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
	local n = ARGV[2]
	if #cur > #n or (#cur == #n and cur >= n) then
		return 0
	end
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
return 1
`)

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// HGetAll returns every field of a hash, empty when the key is missing
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	m, err := c.rdb.HGetAll(ctx, key).Result()
	observability.ObserveCacheOp("hgetall", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %q: %w", key, err)
	}
	return m, nil
}

func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) error {
	start := time.Now()
	if len(fields) == 0 {
		observability.ObserveCacheOp("hset", nil, time.Since(start).Seconds())
		return nil
	}
	vals := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		vals = append(vals, k, v)
	}
	err := c.rdb.HSet(ctx, key, vals...).Err()
	observability.ObserveCacheOp("hset", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis HSET %q: %w", key, err)
	}
	return nil
}

// HSetIfNewer writes fields only when the stored versionField is absent or
// lower than version. It reports whether the write happened.
func (c *Client) HSetIfNewer(ctx context.Context, key, versionField string, version uint64, fields map[string]string) (bool, error) {
	start := time.Now()
	v := strconv.FormatUint(version, 10)
	args := make([]any, 0, 2+len(fields)*2+2)
	args = append(args, versionField, v, versionField, v)
	for k, val := range fields {
		if k == versionField {
			continue
		}
		args = append(args, k, val)
	}
	n, err := hsetIfNewer.Run(ctx, c.rdb, []string{key}, args...).Int()
	observability.ObserveCacheOp("hset_if_newer", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis HSET if newer %q: %w", key, err)
	}
	return n == 1, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
