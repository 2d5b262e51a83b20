// Package lifecycle 提供通信器生命周期协调器
//
// 状态只能前进：
//
//	Active → DestroyInProgress → Destroyed
//
// 本模块的核心职责：
//  1. 追踪当前状态，并发的销毁调用收敛到唯一执行者
//  2. 提供状态 gate（等待特定状态到达）
//  3. 以固定顺序执行销毁步骤（Sequence）
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/lifecycle")

// ============================================================================
//                              状态定义
// ============================================================================

// State 通信器生命周期状态
type State int

const (
	// StateActive 正常运行
	StateActive State = iota

	// StateDestroyInProgress 正在销毁，新的销毁调用会等待
	StateDestroyInProgress

	// StateDestroyed 已销毁（终态）
	StateDestroyed
)

// String 返回状态字符串表示
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDestroyInProgress:
		return "destroy-in-progress"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ============================================================================
//                              生命周期协调器
// ============================================================================

// Coordinator 生命周期协调器
//
// 其互斥锁同时供所有者保护自身可变字段：访问器在同一次加锁内
// 完成状态检查与句柄复制（Lock / CheckLocked / Unlock）。
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	state State

	// 状态到达信号，key: 状态, value: 到达后关闭的 channel
	signals map[State]chan struct{}

	// 状态变更回调
	onChange []func(old, new State)
}

// NewCoordinator 创建处于 Active 状态的协调器
func NewCoordinator() *Coordinator {
	c := &Coordinator{
		state:   StateActive,
		signals: make(map[State]chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	for s := StateActive; s <= StateDestroyed; s++ {
		c.signals[s] = make(chan struct{})
	}
	close(c.signals[StateActive])
	return c
}

// Lock 获取协调器互斥锁
func (c *Coordinator) Lock() { c.mu.Lock() }

// Unlock 释放协调器互斥锁
func (c *Coordinator) Unlock() { c.mu.Unlock() }

// State 返回当前状态
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StateLocked 返回当前状态，调用方必须持有锁
func (c *Coordinator) StateLocked() State {
	return c.state
}

// CheckLocked 已销毁时返回 ErrCommunicatorDestroyed，调用方必须持有锁
func (c *Coordinator) CheckLocked() error {
	if c.state == StateDestroyed {
		return types.ErrCommunicatorDestroyed
	}
	return nil
}

// CheckActiveLocked 非 Active 时返回 ErrCommunicatorDestroyed，调用方必须持有锁
//
// 用于延迟创建的组件：销毁开始后不得再创建。
func (c *Coordinator) CheckActiveLocked() error {
	if c.state != StateActive {
		return types.ErrCommunicatorDestroyed
	}
	return nil
}

// IsDestroyed 是否已销毁
func (c *Coordinator) IsDestroyed() bool {
	return c.State() == StateDestroyed
}

// ============================================================================
//                              销毁协调
// ============================================================================

// BeginDestroy 尝试成为销毁执行者
//
// 若另一个调用正在销毁，阻塞直到其完成；已销毁时返回 false。
// 返回 true 时状态已迁移到 DestroyInProgress 且锁已释放，
// 调用方执行销毁步骤后必须调用 CompleteDestroy。
func (c *Coordinator) BeginDestroy() bool {
	c.mu.Lock()
	for c.state == StateDestroyInProgress {
		c.cond.Wait()
	}
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return false
	}
	callbacks := c.transitionLocked(StateDestroyInProgress)
	c.mu.Unlock()

	notify(callbacks, StateActive, StateDestroyInProgress)
	return true
}

// CompleteDestroy 在持锁状态下执行 finalize，然后迁移到 Destroyed 并唤醒所有等待者
func (c *Coordinator) CompleteDestroy(finalize func()) {
	c.mu.Lock()
	if finalize != nil {
		finalize()
	}
	callbacks := c.transitionLocked(StateDestroyed)
	c.cond.Broadcast()
	c.mu.Unlock()

	notify(callbacks, StateDestroyInProgress, StateDestroyed)
}

func (c *Coordinator) transitionLocked(target State) []func(old, new State) {
	old := c.state
	c.state = target
	if ch := c.signals[target]; ch != nil {
		close(ch)
	}
	logger.Debug("生命周期状态迁移", "from", old.String(), "to", target.String())

	callbacks := make([]func(old, new State), len(c.onChange))
	copy(callbacks, c.onChange)
	return callbacks
}

func notify(callbacks []func(old, new State), old, new State) {
	for _, cb := range callbacks {
		cb(old, new)
	}
}

// ============================================================================
//                              状态 Gate
// ============================================================================

// WaitFor 等待指定状态到达
//
// 阻塞直到目标状态到达或上下文取消。
func (c *Coordinator) WaitFor(ctx context.Context, state State) error {
	c.mu.Lock()
	ch := c.signals[state]
	c.mu.Unlock()

	if ch == nil {
		return fmt.Errorf("invalid state: %d", state)
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done 返回销毁完成时关闭的 channel
func (c *Coordinator) Done() <-chan struct{} {
	return c.signals[StateDestroyed]
}

// OnStateChange 注册状态变更回调
//
// 回调在锁外同步调用。
func (c *Coordinator) OnStateChange(fn func(old, new State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}
