package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	createdAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

// Memory 是线程安全的进程内 TTL 缓存。
//
// 条目按写入时间排成链表，容量满时淘汰最早写入的条目；过期条目在 Get 时惰性删除，
// 也可以通过 CleanupExpired 批量清理。
type Memory[V any] struct {
	mu      sync.Mutex
	data    map[string]*entry[V]
	order   *list.List
	ttl     time.Duration
	max     int
	prefix  string
	now     func() time.Time
	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	now func() time.Time
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// NewMemory 创建内存缓存。
func NewMemory[V any](cfg Config, opts ...MemoryOption) *Memory[V] {
	o := memoryOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory[V]{
		data:   make(map[string]*entry[V]),
		order:  list.New(),
		ttl:    cfg.TTL,
		max:    cfg.MaxEntries,
		prefix: cfg.KeyPrefix,
		now:    o.now,
	}
}

// Get 实现 Store 接口。
func (c *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	var zero V
	key = c.prefix + key

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		c.misses.Add(1)
		return zero, false, nil
	}
	if c.expired(e) {
		c.removeLocked(e)
		c.misses.Add(1)
		return zero, false, nil
	}
	c.hits.Add(1)
	return e.value, true, nil
}

// Set 实现 Store 接口。
func (c *Memory[V]) Set(_ context.Context, key string, value V) error {
	key = c.prefix + key
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.data[key]; ok {
		e.value = value
		e.createdAt = now
		e.expiresAt = c.expiry(now)
		c.order.MoveToBack(e.elem)
		return nil
	}

	if c.max > 0 && len(c.data) >= c.max {
		c.evictLocked()
	}

	e := &entry[V]{key: key, value: value, createdAt: now, expiresAt: c.expiry(now)}
	e.elem = c.order.PushBack(e)
	c.data[key] = e
	return nil
}

// Delete 实现 Store 接口。
func (c *Memory[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.data[c.prefix+key]; ok {
		c.removeLocked(e)
	}
	return nil
}

// DeletePrefix 实现 Store 接口。
func (c *Memory[V]) DeletePrefix(_ context.Context, prefix string) (int, error) {
	full := c.prefix + prefix

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.data {
		if strings.HasPrefix(k, full) {
			c.removeLocked(e)
			n++
		}
	}
	return n, nil
}

// Clear 实现 Store 接口。
func (c *Memory[V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*entry[V])
	c.order.Init()
	return nil
}

// CleanupExpired 删除所有已过期条目，返回删除数量。
func (c *Memory[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.data {
		if c.expired(e) {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired ones included.
func (c *Memory[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats 实现 Store 接口。
func (c *Memory[V]) Stats(_ context.Context) Stats {
	s := Stats{
		Backend:    "memory",
		Size:       c.Len(),
		MaxSize:    c.max,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evicted.Load(),
	}
	s.finish()
	return s
}

// RunJanitor 周期性清理过期条目，直到 ctx 结束。
func (c *Memory[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpired()
		}
	}
}

func (c *Memory[V]) expiry(now time.Time) time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(c.ttl)
}

func (c *Memory[V]) expired(e *entry[V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

// evictLocked drops expired entries first, then the oldest one if still full.
func (c *Memory[V]) evictLocked() {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry[V]); c.expired(e) {
			c.removeLocked(e)
			c.evicted.Add(1)
		}
		el = next
	}
	for len(c.data) >= c.max {
		front := c.order.Front()
		if front == nil {
			return
		}
		c.removeLocked(front.Value.(*entry[V]))
		c.evicted.Add(1)
	}
}

func (c *Memory[V]) removeLocked(e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.data, e.key)
}

var _ Store[int] = (*Memory[int])(nil)
