// Package interfaces 定义 commrt 公共接口
//
// 本文件定义 Servant 分派契约。
package interfaces

import (
	"context"

	"github.com/dep2p/go-commrt/pkg/types"
)

// PingOperation 探测对象是否存在的内置操作，由适配器直接应答
const PingOperation = "ice_ping"

// Current 一次分派的上下文信息
type Current struct {
	// Adapter 分派所在的对象适配器名称
	Adapter string

	// ConnectionID 请求到达的连接 ID（本地调用为空）
	ConnectionID string

	// Identity 目标对象身份
	Identity types.Identity

	// Facet 目标 facet
	Facet string

	// Operation 操作名
	Operation string

	// Mode 操作模式
	Mode types.OperationMode

	// Context 请求上下文
	Context map[string]string

	// RequestID 请求 ID（单向请求为 0）
	RequestID int32
}

// Servant 远程可调用对象的实现
//
// params 与返回值为操作参数和结果的编码（JSON），
// 返回 *types.UserError 表示用户异常，返回 types.ErrOperationNotExist
// 表示不支持该操作。
type Servant interface {
	Dispatch(ctx context.Context, current *Current, params []byte) ([]byte, error)
}

// ServantFunc 函数适配为 Servant
type ServantFunc func(ctx context.Context, current *Current, params []byte) ([]byte, error)

// Dispatch 实现 Servant
func (f ServantFunc) Dispatch(ctx context.Context, current *Current, params []byte) ([]byte, error) {
	return f(ctx, current, params)
}
