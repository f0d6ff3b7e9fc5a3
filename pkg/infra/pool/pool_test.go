package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitAndWait(t *testing.T) {
	p, err := New("test", IngestPoolConfig(2))
	require.NoError(t, err)
	defer func() { _ = p.Release(time.Second) }()

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func() { n.Add(1) }))
	}
	p.Wait()

	assert.Equal(t, int32(10), n.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Equal(t, 2, stats.Capacity)
}

func TestPool_PanicIsRecoveredAndReported(t *testing.T) {
	recovered := make(chan interface{}, 1)
	cfg := IngestPoolConfig(1)
	cfg.PanicHandler = func(r interface{}) { recovered <- r }

	p, err := New("panic", cfg)
	require.NoError(t, err)
	defer func() { _ = p.Release(time.Second) }()

	require.NoError(t, p.Submit(func() { panic("boom") }))
	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(2 * time.Second):
		t.Fatal("panic handler not called")
	}
	p.Wait()
	assert.Equal(t, int64(1), p.Stats().Panics)

	var ran atomic.Bool
	require.NoError(t, p.Submit(func() { ran.Store(true) }))
	p.Wait()
	assert.True(t, ran.Load(), "pool must keep working after a panic")
}

func TestPool_NonblockingOverload(t *testing.T) {
	p, err := New("tiny", &Config{Capacity: 1, ExpiryDuration: time.Second, Nonblocking: true})
	require.NoError(t, err)
	defer func() { _ = p.Release(time.Second) }()

	block := make(chan struct{})
	require.NoError(t, p.Submit(func() { <-block }))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolOverload)
	close(block)
	p.Wait()
	assert.Equal(t, int64(1), p.Stats().Rejected)
}

func TestPool_SubmitWithContextSkipsCancelled(t *testing.T) {
	p, err := New("ctx", IngestPoolConfig(1))
	require.NoError(t, err)
	defer func() { _ = p.Release(time.Second) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.SubmitWithContext(ctx, func(context.Context) {}), context.Canceled)
}

func TestPool_ReleaseRejectsNewTasks(t *testing.T) {
	p, err := New("closed", IngestPoolConfig(1))
	require.NoError(t, err)
	require.NoError(t, p.Release(0))
	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	assert.NoError(t, p.Release(0))
}
