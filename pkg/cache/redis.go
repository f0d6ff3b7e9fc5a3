package cache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-kb/pkg/utils/json"
)

// Redis 是基于 Redis 的共享 TTL 缓存，值使用 JSON 编码。
//
// 过期交给 Redis 的 key TTL 处理，MaxEntries 不生效（依赖 Redis 的 maxmemory 策略）。
type Redis[V any] struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedis 创建 Redis 缓存。
func NewRedis[V any](client *goredis.Client, cfg Config) *Redis[V] {
	return &Redis[V]{client: client, ttl: cfg.TTL, prefix: cfg.KeyPrefix}
}

// Get 实现 Store 接口。
func (c *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if c.client == nil {
		return zero, false, ErrCacheDisabled
	}

	full := c.prefix + key
	data, err := c.client.Get(ctx, full).Bytes()
	if err != nil {
		c.misses.Add(1)
		if errors.Is(err, goredis.Nil) {
			return zero, false, nil
		}
		return zero, false, err
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		// 损坏的缓存直接删除，按未命中处理
		logger.Warnw("failed to unmarshal cached value, deleting", "key", full, "error", err.Error())
		_ = c.client.Del(ctx, full).Err()
		c.misses.Add(1)
		return zero, false, nil
	}
	c.hits.Add(1)
	return v, true, nil
}

// Set 实现 Store 接口。
func (c *Redis[V]) Set(ctx context.Context, key string, value V) error {
	if c.client == nil {
		return ErrCacheDisabled
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// Delete 实现 Store 接口。
func (c *Redis[V]) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return ErrCacheDisabled
	}
	return c.client.Del(ctx, c.prefix+key).Err()
}

// DeletePrefix 使用 SCAN 删除匹配前缀的 key。
func (c *Redis[V]) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if c.client == nil {
		return 0, ErrCacheDisabled
	}

	iter := c.client.Scan(ctx, 0, escapeGlob(c.prefix+prefix)+"*", 200).Iterator()
	deleted := 0
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		deleted += int(n)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	return deleted, flush()
}

// escapeGlob 转义 SCAN MATCH 的通配符，使前缀按字面匹配。
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Clear 删除本缓存前缀下的所有 key。
func (c *Redis[V]) Clear(ctx context.Context) error {
	n, err := c.DeletePrefix(ctx, "")
	if err == nil {
		logger.Infow("cleared redis cache", "prefix", c.prefix, "deleted_count", n)
	}
	return err
}

// Stats 实现 Store 接口。Size 通过 SCAN 统计，开销与 key 数量成正比。
func (c *Redis[V]) Stats(ctx context.Context) Stats {
	s := Stats{
		Backend:    "redis",
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
	}
	if c.client != nil {
		iter := c.client.Scan(ctx, 0, escapeGlob(c.prefix)+"*", 500).Iterator()
		for iter.Next(ctx) {
			s.Size++
		}
		if err := iter.Err(); err != nil {
			logger.Warnw("error during cache scan", "error", err.Error())
		}
	}
	s.finish()
	return s
}

var _ Store[int] = (*Redis[int])(nil)
