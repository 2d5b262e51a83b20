package logger

import (
	"log/slog"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// SlogLogger 基于 slog 的通信器 Logger
//
// Print 与 Trace 以 Info 级别输出，Trace 附带 category 属性；
// 前缀非空时附带 prefix 属性。
type SlogLogger struct {
	prefix string
	inner  *slog.Logger
}

var _ interfaces.Logger = (*SlogLogger)(nil)

// NewSlogLogger 创建通信器 Logger
//
// inner 为 nil 时使用 "commrt" 子系统 Logger。
func NewSlogLogger(prefix string, inner *slog.Logger) *SlogLogger {
	if inner == nil {
		inner = GlobalLogger()
	}
	return &SlogLogger{prefix: prefix, inner: inner}
}

func (l *SlogLogger) with() *slog.Logger {
	if l.prefix == "" {
		return l.inner
	}
	return l.inner.With("prefix", l.prefix)
}

// Print 输出普通消息
func (l *SlogLogger) Print(message string) {
	l.with().Info(message)
}

// Trace 输出跟踪消息
func (l *SlogLogger) Trace(category, message string) {
	l.with().Info(message, "category", category)
}

// Warning 输出警告
func (l *SlogLogger) Warning(message string) {
	l.with().Warn(message)
}

// Error 输出错误
func (l *SlogLogger) Error(message string) {
	l.with().Error(message)
}

// Prefix 返回前缀
func (l *SlogLogger) Prefix() string {
	return l.prefix
}

// CloneWithPrefix 返回新前缀的副本
func (l *SlogLogger) CloneWithPrefix(prefix string) interfaces.Logger {
	return &SlogLogger{prefix: prefix, inner: l.inner}
}
