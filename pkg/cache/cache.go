// Package cache provides the time-bounded key/value stores used to memoise
// embeddings and search results.
//
// Two backends share the Store interface: Memory keeps entries in process with
// a hard entry cap and oldest-first eviction, Redis shares entries between
// replicas and relies on key TTLs for expiry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrCacheDisabled is returned by a nil or disabled store.
var ErrCacheDisabled = errors.New("cache disabled")

// Store 定义带 TTL 的泛型缓存接口。
//
// 过期条目在读取时视为不存在并被惰性删除。实现必须支持并发读写。
type Store[V any] interface {
	// Get 返回 key 对应的值；未命中或已过期时 ok 为 false。
	Get(ctx context.Context, key string) (value V, ok bool, err error)
	// Set 写入或覆盖 key，使用存储配置的 TTL。
	Set(ctx context.Context, key string, value V) error
	// Delete 删除单个 key。
	Delete(ctx context.Context, key string) error
	// DeletePrefix 删除所有以 prefix 开头的 key，返回删除数量。
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	// Clear 清空缓存。
	Clear(ctx context.Context) error
	// Stats 返回命中率等统计信息。
	Stats(ctx context.Context) Stats
}

// Stats 缓存统计信息。
type Stats struct {
	Backend       string  `json:"backend"`
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	TTLSeconds    float64 `json:"ttl_seconds"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	TotalRequests uint64  `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}

func (s *Stats) finish() {
	s.TotalRequests = s.Hits + s.Misses
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests)
	}
}

// Config 缓存配置。
type Config struct {
	// TTL 条目存活时间。
	TTL time.Duration
	// MaxEntries 最大条目数，仅内存后端生效；<=0 表示不限制。
	MaxEntries int
	// KeyPrefix 键前缀，用于在共享 Redis 中隔离命名空间。
	KeyPrefix string
}

// HashKey 将若干键片段拼接后做 SHA256，得到定长缓存键。
// 片段之间使用不可见分隔符，避免 ("ab","c") 与 ("a","bc") 冲突。
func HashKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
