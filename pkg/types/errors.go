// Package types 定义 commrt 的基础类型
//
// 本文件定义所有公共错误类型。
package types

import (
	"errors"
	"fmt"
)

// ============================================================================
//                              生命周期错误
// ============================================================================

var (
	// ErrCommunicatorDestroyed 通信器已销毁
	//
	// 终态错误，调用方不应重试。
	ErrCommunicatorDestroyed = errors.New("communicator destroyed")

	// ErrInitialization 初始化失败（配置错误、线程创建失败等）
	ErrInitialization = errors.New("initialization failed")

	// ErrNotDestroyed 组件尚未销毁（例如在 Destroy 之前调用 JoinWithAllThreads）
	ErrNotDestroyed = errors.New("component not destroyed")
)

// ============================================================================
//                              注册相关错误
// ============================================================================

var (
	// ErrAlreadyRegistered 对象/facet/适配器已注册
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrNotRegistered 对象/facet/适配器未注册
	ErrNotRegistered = errors.New("not registered")

	// ErrObjectAdapterDeactivated 对象适配器已停用
	ErrObjectAdapterDeactivated = errors.New("object adapter deactivated")

	// ErrIllegalIdentity 非法身份（名称为空）
	ErrIllegalIdentity = errors.New("illegal identity")

	// ErrIllegalServant 非法 servant（nil）
	ErrIllegalServant = errors.New("illegal servant")
)

// ============================================================================
//                              连接相关错误
// ============================================================================

var (
	// ErrConnectFailed 建立连接失败（可重试）
	ErrConnectFailed = errors.New("connect failed")

	// ErrConnectionLost 连接丢失（可重试）
	ErrConnectionLost = errors.New("connection lost")

	// ErrCloseConnection 对端优雅关闭连接（可重试，对端保证未处理请求）
	ErrCloseConnection = errors.New("connection closed by peer")

	// ErrConnectionManuallyClosed 连接被本地主动关闭
	ErrConnectionManuallyClosed = errors.New("connection manually closed")

	// ErrConnectionTimeout 连接超时
	ErrConnectionTimeout = errors.New("connection timeout")

	// ErrConnectionIdle 连接因空闲被 ACM 关闭
	ErrConnectionIdle = errors.New("connection closed because idle")

	// ErrDNS 名称解析失败（可重试）
	ErrDNS = errors.New("dns resolution failed")

	// ErrNoEndpoint 没有可用端点
	ErrNoEndpoint = errors.New("no suitable endpoint available")

	// ErrMemoryLimit 消息超过 MessageSizeMax
	ErrMemoryLimit = errors.New("message exceeds size limit")

	// ErrProtocol 协议错误
	ErrProtocol = errors.New("protocol error")
)

// ============================================================================
//                              调用相关错误
// ============================================================================

var (
	// ErrObjectNotExist 目标对象不存在
	ErrObjectNotExist = errors.New("object does not exist")

	// ErrFacetNotExist 目标 facet 不存在
	ErrFacetNotExist = errors.New("facet does not exist")

	// ErrOperationNotExist 目标操作不存在
	ErrOperationNotExist = errors.New("operation does not exist")

	// ErrInvocationTimeout 调用超时
	ErrInvocationTimeout = errors.New("invocation timeout")

	// ErrInvocationCanceled 调用被取消
	ErrInvocationCanceled = errors.New("invocation canceled")

	// ErrTwowayOnly 操作需要双向代理
	ErrTwowayOnly = errors.New("operation requires a twoway proxy")
)

// ============================================================================
//                              解析相关错误
// ============================================================================

var (
	// ErrEndpointParse 端点字符串解析失败
	ErrEndpointParse = errors.New("endpoint parse error")

	// ErrProxyParse 代理字符串解析失败
	ErrProxyParse = errors.New("proxy parse error")

	// ErrIdentityParse 身份字符串解析失败
	ErrIdentityParse = errors.New("identity parse error")
)

// ============================================================================
//                              结构化错误
// ============================================================================

// InitializationError 带原因的初始化错误
type InitializationError struct {
	Reason string
}

func (e *InitializationError) Error() string {
	return "initialization failed: " + e.Reason
}

// Is 使 errors.Is(err, ErrInitialization) 成立
func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}

// NewInitializationError 创建初始化错误
func NewInitializationError(format string, args ...any) error {
	return &InitializationError{Reason: fmt.Sprintf(format, args...)}
}

// RegistrationError 注册/注销错误，携带对象种类与 ID
type RegistrationError struct {
	// Kind 种类，例如 "facet"、"servant"、"object adapter"
	Kind string
	// ID 名称或身份
	ID string
	// Registered true 表示重复注册，false 表示未注册
	Registered bool
}

func (e *RegistrationError) Error() string {
	if e.Registered {
		return fmt.Sprintf("%s `%s' is already registered", e.Kind, e.ID)
	}
	return fmt.Sprintf("no %s is registered with ID `%s'", e.Kind, e.ID)
}

// Is 映射到 ErrAlreadyRegistered / ErrNotRegistered
func (e *RegistrationError) Is(target error) bool {
	if e.Registered {
		return target == ErrAlreadyRegistered
	}
	return target == ErrNotRegistered
}

// AlreadyRegistered 创建"已注册"错误
func AlreadyRegistered(kind, id string) error {
	return &RegistrationError{Kind: kind, ID: id, Registered: true}
}

// NotRegistered 创建"未注册"错误
func NotRegistered(kind, id string) error {
	return &RegistrationError{Kind: kind, ID: id}
}

// UserError 应用层（servant 抛出）的用户异常
//
// TypeID 形如 "::Ice::ServerNotFoundException"，跨线路保持不变。
type UserError struct {
	TypeID  string
	Message string
}

func (e *UserError) Error() string {
	if e.Message == "" {
		return "user exception " + e.TypeID
	}
	return fmt.Sprintf("user exception %s: %s", e.TypeID, e.Message)
}

// UnknownError 对端返回的未知异常
type UnknownError struct {
	Message string
}

func (e *UnknownError) Error() string {
	return "unknown exception: " + e.Message
}

// IsUserError 判断 err 是否为指定类型的用户异常
func IsUserError(err error, typeID string) bool {
	var ue *UserError
	return errors.As(err, &ue) && ue.TypeID == typeID
}

// IsRetryable 判断错误是否可以安全重试
//
// 可重试：建立连接失败、连接丢失、对端优雅关闭、名称解析失败。
// 通信器已销毁、超时、用户异常等均为终态。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCommunicatorDestroyed) ||
		errors.Is(err, ErrInvocationTimeout) ||
		errors.Is(err, ErrInvocationCanceled) ||
		errors.Is(err, ErrMemoryLimit) {
		return false
	}
	return errors.Is(err, ErrConnectFailed) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrCloseConnection) ||
		errors.Is(err, ErrConnectionIdle) ||
		errors.Is(err, ErrDNS) ||
		errors.Is(err, ErrConnectionTimeout)
}
