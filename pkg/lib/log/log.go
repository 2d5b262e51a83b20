// Package log 提供 commrt 组件诊断日志接口
//
// 基于 Go 标准库 log/slog 封装。面向开发者的组件级诊断，
// 对用户可见的跟踪、警告与错误走通信器 Logger（pkg/interfaces.Logger）。
//
// 使用方式：
//
//	var logger = log.Logger("core/threadpool")
//	logger.Debug("worker started", "pool", name)
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// 日志级别常量
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

func init() {
	slog.SetDefault(New(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// New 创建文本格式 logger
func New(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetOutput 重定向默认 logger 的输出，级别为 Info
func SetOutput(w io.Writer) {
	SetOutputWithLevel(w, slog.LevelInfo)
}

// SetOutputWithLevel 同时设置默认 logger 的输出与级别
func SetOutputWithLevel(w io.Writer, level slog.Level) {
	slog.SetDefault(New(w, &slog.HandlerOptions{Level: level}))
}

// SetLevel 以 stderr 输出重建默认 logger 并设置级别
func SetLevel(level slog.Level) {
	SetOutputWithLevel(os.Stderr, level)
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时切换日志输出目标。
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) current() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Enabled 判断级别是否启用，用于跳过昂贵的参数构造
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return slog.Default().Enabled(context.Background(), level)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.current().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.current().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.current().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.current().Error(msg, args...)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.current().With(args...)
}
