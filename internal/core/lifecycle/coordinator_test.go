package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/pkg/types"
)

// TestCoordinator_ConcurrentDestroy 测试并发销毁只有一个执行者
func TestCoordinator_ConcurrentDestroy(t *testing.T) {
	c := NewCoordinator()

	var winners atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.BeginDestroy() {
				winners.Add(1)
				<-release
				c.CompleteDestroy(nil)
			}
			// 所有调用返回时销毁都已完成
			assert.Equal(t, StateDestroyed, c.State())
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.False(t, c.BeginDestroy())

	t.Log("✅ 并发销毁收敛到唯一执行者")
}

// TestCoordinator_CheckLocked 测试销毁后的检查
func TestCoordinator_CheckLocked(t *testing.T) {
	c := NewCoordinator()

	c.Lock()
	assert.NoError(t, c.CheckLocked())
	assert.NoError(t, c.CheckActiveLocked())
	c.Unlock()

	require.True(t, c.BeginDestroy())

	c.Lock()
	assert.NoError(t, c.CheckLocked())
	assert.ErrorIs(t, c.CheckActiveLocked(), types.ErrCommunicatorDestroyed)
	c.Unlock()

	c.CompleteDestroy(nil)

	c.Lock()
	assert.ErrorIs(t, c.CheckLocked(), types.ErrCommunicatorDestroyed)
	c.Unlock()
}

// TestCoordinator_WaitFor 测试状态 gate
func TestCoordinator_WaitFor(t *testing.T) {
	c := NewCoordinator()

	var changes []string
	c.OnStateChange(func(old, new State) {
		changes = append(changes, old.String()+"->"+new.String())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitFor(ctx, StateDestroyed), context.DeadlineExceeded)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		c.BeginDestroy()
		c.CompleteDestroy(nil)
	}()

	require.NoError(t, c.WaitFor(context.Background(), StateDestroyed))
	<-c.Done()
	<-finished
	assert.Equal(t, []string{"active->destroy-in-progress", "destroy-in-progress->destroyed"}, changes)
}

// TestSequence_RunOnce 测试步骤按序执行且只执行一次
func TestSequence_RunOnce(t *testing.T) {
	var order []string
	s := NewSequence("test")
	s.Add("a", func() { order = append(order, "a") }).
		Add("skip", nil).
		Add("b", func() { order = append(order, "b") })

	var observed []string
	s.OnStep(func(name string, _ time.Duration) { observed = append(observed, name) })

	assert.Equal(t, []string{"a", "b"}, s.Steps())
	assert.True(t, s.Run())
	assert.False(t, s.Run())

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, []string{"a", "b"}, observed)
	assert.Equal(t, []string{"a", "b"}, s.Executed())

	t.Log("✅ 销毁序列只执行一次")
}
