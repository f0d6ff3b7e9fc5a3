package biz

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/id"
)

// DefaultLockTTL 索引锁的默认有效期，覆盖单次任务的最长耗时。
const DefaultLockTTL = 30 * time.Minute

// Locker 条目级互斥锁，同一条目同一时刻只允许一个索引任务。
type Locker interface {
	// TryLock 尝试加锁，锁已被持有时返回 ErrKBIngestionInProgress。
	// 返回的 unlock 可以重复调用。
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NewLocker 有 Redis 时使用分布式锁，否则使用进程内锁。
func NewLocker(client goredis.UniversalClient) Locker {
	local := NewLocalLocker()
	if client == nil {
		return local
	}
	return &RedisLocker{client: client, prefix: "kb:lock:", local: local}
}

type localLock struct {
	token    string
	deadline time.Time
}

// LocalLocker 进程内锁，过期的锁视为已释放。
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localLock
	now  func() time.Time
}

// NewLocalLocker 创建进程内锁。
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localLock), now: time.Now}
}

// TryLock 实现 Locker。
func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.deadline) {
		return nil, errors.ErrKBIngestionInProgress
	}
	token := id.NewUUID()
	l.held[key] = localLock{token: token, deadline: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}

// 只删除自己持有的锁，避免误删过期后被他人重新获取的锁。
var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker 基于 SET NX PX 的分布式锁。Redis 不可用时降级为进程内锁。
type RedisLocker struct {
	client goredis.UniversalClient
	prefix string
	local  *LocalLocker
}

// TryLock 实现 Locker。
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	redisKey := l.prefix + key
	token := id.NewUUID()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		logger.Warnw("Redis lock unavailable, falling back to local lock", "key", key, "error", err.Error())
		return l.local.TryLock(ctx, key, ttl)
	}
	if !ok {
		return nil, errors.ErrKBIngestionInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				logger.Warnw("Failed to release ingestion lock", "key", key, "error", err.Error())
			}
		})
	}, nil
}
