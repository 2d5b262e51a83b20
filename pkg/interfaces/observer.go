// Package interfaces 定义 commrt 公共接口
//
// 本文件定义插桩观察者接口。
package interfaces

import "github.com/dep2p/go-commrt/pkg/types"

// Observer 基础观察者
type Observer interface {
	// Attach 观察开始
	Attach()

	// Detach 观察结束
	Detach()

	// Failed 记录失败
	Failed(err error)
}

// ThreadObserver 工作线程观察者
type ThreadObserver interface {
	Observer

	// StateChanged 线程状态迁移
	StateChanged(oldState, newState types.ThreadState)
}

// ConnectionObserver 连接观察者
type ConnectionObserver interface {
	Observer

	// SentBytes 记录发送字节数
	SentBytes(n int)

	// ReceivedBytes 记录接收字节数
	ReceivedBytes(n int)
}

// InvocationObserver 调用观察者
type InvocationObserver interface {
	Observer

	// Retried 记录一次重试
	Retried()

	// UserException 记录用户异常
	UserException()
}

// DispatchObserver 分派观察者
type DispatchObserver interface {
	Observer

	// UserException 记录用户异常
	UserException()
}

// ObserverUpdater 由实例实现，用于在观察者配置变化时刷新现有观察者
type ObserverUpdater interface {
	// UpdateConnectionObservers 刷新所有连接观察者
	UpdateConnectionObservers()

	// UpdateThreadObservers 刷新所有线程观察者
	UpdateThreadObservers()
}

// CommunicatorObserver 通信器级插桩入口
//
// 返回 nil 表示不观察该对象。old 为此前返回的观察者，可被复用。
type CommunicatorObserver interface {
	// ConnectionEstablishmentObserver 返回建立连接的观察者
	ConnectionEstablishmentObserver(endpoint string) Observer

	// ThreadObserver 返回工作线程观察者
	ThreadObserver(parent, id string, state types.ThreadState, old ThreadObserver) ThreadObserver

	// ConnectionObserver 返回连接观察者
	ConnectionObserver(endpoint, connectionID string, state types.ConnectionState, old ConnectionObserver) ConnectionObserver

	// InvocationObserver 返回调用观察者
	InvocationObserver(proxy, operation string) InvocationObserver

	// DispatchObserver 返回分派观察者
	DispatchObserver(adapter, operation string) DispatchObserver

	// SetObserverUpdater 设置（或以 nil 清除）观察者更新器
	SetObserverUpdater(updater ObserverUpdater)
}
