package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Config defines the configuration for the worker pool.
type Config struct {
	// Capacity 池容量（最大并发 goroutine 数）
	Capacity int
	// ExpiryDuration goroutine 空闲过期时间
	ExpiryDuration time.Duration
	// PreAlloc 是否预分配内存
	PreAlloc bool
	// Nonblocking 池满时提交立即返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 阻塞模式下最大等待任务数（0 表示无限制）
	MaxBlockingTasks int
	// PanicHandler 任务 panic 后调用，参数为 recover() 的值
	PanicHandler func(interface{})
}

// IngestPoolConfig 返回摄取任务池配置：任务耗时长，排队而不是拒绝。
func IngestPoolConfig(workers int) *Config {
	if workers <= 0 {
		workers = 4
	}
	return &Config{
		Capacity:         workers,
		ExpiryDuration:   time.Minute,
		MaxBlockingTasks: 1000,
	}
}

// BackgroundPoolConfig 返回后台任务池配置（健康检查、缓存清理）。
func BackgroundPoolConfig() *Config {
	return &Config{
		Capacity:         50,
		ExpiryDuration:   60 * time.Second,
		Nonblocking:      true,
		MaxBlockingTasks: 100,
	}
}

// Pool represents a worker pool.
type Pool struct {
	name   string
	pool   *ants.Pool
	config *Config

	submitted atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64
	rejected  atomic.Int64

	closed atomic.Bool
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// Stats contains statistics about the worker pool.
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Running   int    `json:"running"`
	Waiting   int    `json:"waiting"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Panics    int64  `json:"panics"`
	Rejected  int64  `json:"rejected"`
}

// New creates a new worker pool with the given configuration.
func New(name string, config *Config) (*Pool, error) {
	if config == nil {
		config = IngestPoolConfig(0)
	}

	p := &Pool{name: name, config: config}

	ap, err := ants.NewPool(config.Capacity,
		ants.WithExpiryDuration(config.ExpiryDuration),
		ants.WithPreAlloc(config.PreAlloc),
		ants.WithNonblocking(config.Nonblocking),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithPanicHandler(p.onPanic),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = ap

	logger.Infow("Worker pool created", "name", name, "capacity", config.Capacity)
	return p, nil
}

func (p *Pool) onPanic(r interface{}) {
	p.panics.Add(1)
	logger.Errorw("Worker panic recovered", "pool", p.name, "panic", r)
	if p.config.PanicHandler != nil {
		p.config.PanicHandler(r)
	}
}

// Name 返回池名称
func (p *Pool) Name() string {
	return p.name
}

// Submit 提交任务到池中执行。
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		task()
		p.completed.Add(1)
	})
	if err != nil {
		p.wg.Done()
		if errors.Is(err, ants.ErrPoolOverload) {
			p.rejected.Add(1)
			return ErrPoolOverload
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	p.submitted.Add(1)
	return nil
}

// SubmitWithContext 提交任务；任务开始前 ctx 已取消则跳过执行。
func (p *Pool) SubmitWithContext(ctx context.Context, task func(ctx context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task(ctx)
	})
}

// Wait 阻塞直到所有已提交的任务结束。
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats 返回池统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Capacity:  p.pool.Cap(),
		Running:   p.pool.Running(),
		Waiting:   p.pool.Waiting(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Release 关闭池，最多等待 timeout 让进行中的任务结束。
func (p *Pool) Release(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Swap(true) {
		return nil
	}
	logger.Infow("Worker pool releasing", "name", p.name, "running", p.pool.Running())
	if timeout <= 0 {
		p.pool.Release()
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}
