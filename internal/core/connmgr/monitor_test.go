package connmgr

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/internal/core/timer"
)

type fakeConn struct {
	id     string
	last   time.Time
	busy   atomic.Bool
	closed atomic.Bool
}

func (c *fakeConn) ID() string              { return c.id }
func (c *fakeConn) LastActivity() time.Time { return c.last }
func (c *fakeConn) Busy() bool              { return c.busy.Load() }
func (c *fakeConn) Active() bool            { return !c.closed.Load() }
func (c *fakeConn) CloseIdle()              { c.closed.Store(true) }

// TestMonitor_ClosesIdle 测试关闭空闲连接
func TestMonitor_ClosesIdle(t *testing.T) {
	mock := clock.NewMock()
	tm := timer.New(timer.WithClock(mock))
	defer tm.Destroy()

	m := NewMonitor("client", tm, 10*time.Second)
	defer m.Destroy()

	idle := &fakeConn{id: "idle", last: mock.Now()}
	busy := &fakeConn{id: "busy", last: mock.Now()}
	busy.busy.Store(true)
	m.Add(idle)
	m.Add(busy)

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return idle.closed.Load()
	}, 2*time.Second, time.Millisecond)

	assert.False(t, busy.closed.Load())
	assert.Equal(t, 1, m.Len())

	t.Log("✅ 空闲连接被关闭，忙碌连接保留")
}

// TestMonitor_Disabled 测试超时为 0 时不启用
func TestMonitor_Disabled(t *testing.T) {
	tm := timer.New(timer.WithClock(clock.NewMock()))
	defer tm.Destroy()

	m := NewMonitor("server", tm, 0)
	assert.False(t, m.Enabled())
	assert.Equal(t, 0, tm.Pending())

	m.Add(&fakeConn{id: "a"})
	assert.Equal(t, 1, m.Len())
	m.Destroy()
	assert.Equal(t, 0, m.Len())
}

// TestMonitor_DestroyCancelsTask 测试销毁后取消周期任务
func TestMonitor_DestroyCancelsTask(t *testing.T) {
	tm := timer.New(timer.WithClock(clock.NewMock()))
	defer tm.Destroy()

	m := NewMonitor("client", tm, time.Minute)
	assert.Equal(t, 1, tm.Pending())
	m.Destroy()
	assert.Equal(t, 0, tm.Pending())

	m.Add(&fakeConn{id: "late"})
	assert.Equal(t, 0, m.Len())
}
