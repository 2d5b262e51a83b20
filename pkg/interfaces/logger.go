// Package interfaces 定义 commrt 公共接口
//
// 本文件定义通信器 Logger 接口。
package interfaces

// Logger 通信器日志接口
//
// 所有对用户可见的跟踪、警告与错误都经过该接口，
// 以便 LoggerAdmin 能够截获并转发给远程日志订阅者。
type Logger interface {
	// Print 输出普通消息
	Print(message string)

	// Trace 输出指定类别的跟踪消息
	Trace(category, message string)

	// Warning 输出警告
	Warning(message string)

	// Error 输出错误
	Error(message string)

	// Prefix 返回日志前缀
	Prefix() string

	// CloneWithPrefix 返回使用新前缀的副本
	CloneWithPrefix(prefix string) Logger
}
