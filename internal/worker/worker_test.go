package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitDropsNewestWhenFull(t *testing.T) {
	p := New(1, 1, time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32

	// 第一个任务占住唯一的 worker
	require.True(t, p.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-release
		ran.Add(1)
		return nil
	}))
	<-started

	// 第二个任务进入队列
	require.True(t, p.Submit("queued", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))
	// 第三个任务被丢弃
	assert.False(t, p.Submit("dropped", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))

	close(release)
	p.Stop()

	assert.Equal(t, int32(2), ran.Load())
	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestStopDrainsQueueAndRejectsLateSubmit(t *testing.T) {
	p := New(16, 2, time.Second)

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, p.Submit("task", func(ctx context.Context) error {
			done.Add(1)
			return nil
		}))
	}
	p.Stop()
	assert.Equal(t, int32(10), done.Load())

	assert.False(t, p.Submit("late", func(ctx context.Context) error { return nil }))
	// 重复 Stop 不应 panic
	p.Stop()
}

func TestTaskContextIsDetachedFromCaller(t *testing.T) {
	p := New(4, 1, time.Second)

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, parent.Err())

	var ctxErr atomic.Value
	require.True(t, p.Submit("detached", func(ctx context.Context) error {
		ctxErr.Store(ctx.Err() == nil)
		return nil
	}))
	p.Stop()

	assert.Equal(t, true, ctxErr.Load(), "调用方取消不应影响后台任务")
}

func TestFailedAndPanickingTasksAreCounted(t *testing.T) {
	p := New(4, 1, time.Second)
	p.Submit("err", func(ctx context.Context) error { return errors.New("boom") })
	p.Submit("panic", func(ctx context.Context) error { panic("boom") })
	p.Stop()

	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestInlineSubmitter(t *testing.T) {
	var called bool
	ok := Inline{}.Submit("inline", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.True(t, ok)
	assert.True(t, called)
}
