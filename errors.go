package commrt

import "github.com/dep2p/go-commrt/pkg/types"

// 公共错误定义，与 pkg/types 中的哨兵错误相同，可用 errors.Is 匹配
var (
	// ────────────────────────────────────────────────────────────────────────
	// 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrCommunicatorDestroyed 通信器已销毁
	ErrCommunicatorDestroyed = types.ErrCommunicatorDestroyed

	// ErrInitialization 初始化失败
	ErrInitialization = types.ErrInitialization

	// ErrAlreadyRegistered 重复注册
	ErrAlreadyRegistered = types.ErrAlreadyRegistered

	// ErrNotRegistered 未注册
	ErrNotRegistered = types.ErrNotRegistered

	// ErrObjectAdapterDeactivated 对象适配器已停用
	ErrObjectAdapterDeactivated = types.ErrObjectAdapterDeactivated

	// ────────────────────────────────────────────────────────────────────────
	// 连接错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrConnectFailed 连接失败
	ErrConnectFailed = types.ErrConnectFailed

	// ErrConnectionLost 连接丢失
	ErrConnectionLost = types.ErrConnectionLost

	// ErrConnectionTimeout 连接超时
	ErrConnectionTimeout = types.ErrConnectionTimeout

	// ErrNoEndpoint 没有可用端点
	ErrNoEndpoint = types.ErrNoEndpoint

	// ────────────────────────────────────────────────────────────────────────
	// 调用错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrObjectNotExist 对象不存在
	ErrObjectNotExist = types.ErrObjectNotExist

	// ErrFacetNotExist facet 不存在
	ErrFacetNotExist = types.ErrFacetNotExist

	// ErrOperationNotExist 操作不存在
	ErrOperationNotExist = types.ErrOperationNotExist

	// ErrInvocationTimeout 调用超时
	ErrInvocationTimeout = types.ErrInvocationTimeout

	// ErrProxyParse 代理字符串解析失败
	ErrProxyParse = types.ErrProxyParse
)

type (
	// InitializationError 带原因的初始化错误
	InitializationError = types.InitializationError

	// UserError 用户异常
	UserError = types.UserError
)
