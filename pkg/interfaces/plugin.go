// Package interfaces 定义 commrt 公共接口
//
// 本文件定义插件接口。
package interfaces

// Plugin 通信器插件
//
// Initialize 在 finishSetup 阶段调用（Ice.InitPlugins=0 时延后），
// Destroy 在通信器销毁的最后一步调用，使日志插件能够记录整个销毁过程。
type Plugin interface {
	Initialize() error
	Destroy() error
}
