package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGoroutinePool_SubmitWait(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 4}, zap.NewNop())
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	want := errors.New("boom")
	err = p.SubmitWait(context.Background(), func(ctx context.Context) error { return want })
	assert.ErrorIs(t, err, want)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestGoroutinePool_BoundsConcurrency(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 2, QueueSize: 16}, zap.NewNop())
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.SubmitWait(context.Background(), func(ctx context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(8), p.Stats().Completed)
}

func TestGoroutinePool_Panic(t *testing.T) {
	var recovered atomic.Value
	p := NewGoroutinePool(GoroutinePoolConfig{
		MaxWorkers:   1,
		QueueSize:    1,
		PanicHandler: func(r any) { recovered.Store(r) },
	}, zap.NewNop())
	defer p.Close()

	err := p.SubmitWait(context.Background(), func(ctx context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, "kaboom", recovered.Load())

	// worker 仍然可用
	assert.NoError(t, p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestGoroutinePool_CancelledWhileQueued(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 4}, zap.NewNop())
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.SubmitWait(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- p.SubmitWait(ctx, func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
	}()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	close(release)

	// 等排队任务被 worker 取出后确认没有执行
	require.NoError(t, p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil }))
	assert.False(t, ran.Load())
}

func TestGoroutinePool_Submit(t *testing.T) {
	p := NewGoroutinePool(GoroutinePoolConfig{MaxWorkers: 1, QueueSize: 2}, zap.NewNop())

	var count atomic.Int32
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	p.Close()
	assert.Equal(t, int32(2), count.Load())
}

func TestGoroutinePool_Closed(t *testing.T) {
	p := NewGoroutinePool(DefaultGoroutinePoolConfig(), nil)
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
}
