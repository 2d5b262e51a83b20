package connmgr

import (
	"sort"
	"sync"
	"time"

	"github.com/dep2p/go-commrt/internal/core/timer"
	"github.com/dep2p/go-commrt/pkg/lib/log"
)

var logger = log.Logger("core/connmgr")

// minCheckPeriod 检查周期下限
const minCheckPeriod = 100 * time.Millisecond

// Conn 受监控的连接
type Conn interface {
	// ID 连接标识
	ID() string

	// LastActivity 最近一次读写时间
	LastActivity() time.Time

	// Busy 是否有未完成的请求或分派
	Busy() bool

	// Active 是否处于活跃状态
	Active() bool

	// CloseIdle 以空闲原因优雅关闭
	CloseIdle()
}

// ============================================================================
//                              Monitor 实现
// ============================================================================

// Monitor 空闲连接监控
type Monitor struct {
	name    string
	timer   *timer.Timer
	timeout time.Duration
	task    timer.Task

	mu        sync.Mutex
	conns     map[string]Conn
	destroyed bool
}

// NewMonitor 创建监控并在 Timer 上登记周期任务
//
// timeout <= 0 时返回的 Monitor 只做登记，不关闭任何连接。
func NewMonitor(name string, t *timer.Timer, timeout time.Duration) *Monitor {
	m := &Monitor{name: name, timer: t, timeout: timeout, conns: make(map[string]Conn)}
	if timeout <= 0 || t == nil {
		return m
	}

	period := timeout / 2
	if period < minCheckPeriod {
		period = minCheckPeriod
	}
	m.task = timer.NewTask(m.check)
	if err := t.ScheduleRepeated(m.task, period); err != nil {
		logger.Debug("ACM 检查未能调度", "monitor", name, "error", err)
		m.task = nil
	}
	return m
}

// Timeout 空闲超时
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Enabled 是否启用空闲关闭
func (m *Monitor) Enabled() bool {
	return m.timeout > 0
}

// Add 登记连接
func (m *Monitor) Add(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.conns[c.ID()] = c
}

// Remove 注销连接
func (m *Monitor) Remove(c Conn) {
	m.mu.Lock()
	delete(m.conns, c.ID())
	m.mu.Unlock()
}

// Len 已登记连接数
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// check 关闭空闲连接，最久未活动的优先
func (m *Monitor) check() {
	now := m.timer.Clock().Now()

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	candidates := make([]Conn, 0, len(m.conns))
	for _, c := range m.conns {
		if !c.Active() || c.Busy() {
			continue
		}
		if now.Sub(c.LastActivity()) >= m.timeout {
			candidates = append(candidates, c)
		}
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastActivity().Before(candidates[j].LastActivity())
	})
	for _, c := range candidates {
		logger.Debug("关闭空闲连接", "monitor", m.name, "conn", c.ID())
		m.Remove(c)
		c.CloseIdle()
	}
}

// Destroy 取消周期任务
func (m *Monitor) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.conns = make(map[string]Conn)
	m.mu.Unlock()

	if m.task != nil {
		m.timer.Cancel(m.task)
	}
}
