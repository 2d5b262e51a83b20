package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// ZapLogger 基于 zap 的通信器 Logger
//
// 用于 Ice.LogFile，或由宿主进程注入自己的 *zap.Logger。
type ZapLogger struct {
	prefix string
	inner  *zap.Logger
}

var _ interfaces.Logger = (*ZapLogger)(nil)

// NewZapLogger 包装已有的 zap Logger
func NewZapLogger(inner *zap.Logger, prefix string) *ZapLogger {
	if inner == nil {
		inner = zap.NewNop()
	}
	return &ZapLogger{prefix: prefix, inner: inner}
}

// NewFileLogger 创建写入文件的 Logger（Ice.LogFile）
func NewFileLogger(path, prefix string) (*ZapLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.DisableStacktrace = true
	cfg.Sampling = nil

	inner, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %q: %w", path, err)
	}
	return NewZapLogger(inner, prefix), nil
}

func (l *ZapLogger) with() *zap.Logger {
	if l.prefix == "" {
		return l.inner
	}
	return l.inner.With(zap.String("prefix", l.prefix))
}

// Print 输出普通消息
func (l *ZapLogger) Print(message string) {
	l.with().Info(message)
}

// Trace 输出跟踪消息
func (l *ZapLogger) Trace(category, message string) {
	l.with().Info(message, zap.String("category", category))
}

// Warning 输出警告
func (l *ZapLogger) Warning(message string) {
	l.with().Warn(message)
}

// Error 输出错误
func (l *ZapLogger) Error(message string) {
	l.with().Error(message)
}

// Prefix 返回前缀
func (l *ZapLogger) Prefix() string {
	return l.prefix
}

// CloneWithPrefix 返回新前缀的副本
func (l *ZapLogger) CloneWithPrefix(prefix string) interfaces.Logger {
	return &ZapLogger{prefix: prefix, inner: l.inner}
}

// Sync 刷新缓冲
func (l *ZapLogger) Sync() error {
	return l.inner.Sync()
}
