package commrt

import (
	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              版本信息
// ════════════════════════════════════════════════════════════════════════════

// Version 当前版本
const Version = "v0.1.0"

// BuildInfo 构建信息（通过 ldflags 注入）
var (
	// GitCommit Git 提交哈希
	GitCommit string

	// BuildDate 构建日期
	BuildDate string
)

// VersionInfo 返回完整版本信息字符串
func VersionInfo() string {
	info := "commrt " + Version
	if GitCommit != "" {
		info += " (" + GitCommit[:min(8, len(GitCommit))] + ")"
	}
	if BuildDate != "" {
		info += " built " + BuildDate
	}
	return info
}

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// Identity 对象身份
	Identity = types.Identity

	// OperationMode 操作幂等性
	OperationMode = types.OperationMode

	// Servant 远程可调用对象
	Servant = interfaces.Servant

	// ServantFunc 函数适配为 Servant
	ServantFunc = interfaces.ServantFunc

	// Current 一次分派的上下文
	Current = interfaces.Current

	// Logger 通信器日志接口
	Logger = interfaces.Logger

	// CommunicatorObserver 通信器观察者
	CommunicatorObserver = interfaces.CommunicatorObserver

	// Properties 属性集合
	Properties = properties.Properties

	// ObjectAdapter 对象适配器
	ObjectAdapter = adapter.ObjectAdapter
)

const (
	// ModeNormal 非幂等操作
	ModeNormal = types.ModeNormal

	// ModeIdempotent 幂等操作
	ModeIdempotent = types.ModeIdempotent
)

// NewProperties 创建空的属性集合
func NewProperties() *Properties {
	return properties.New()
}
