// Package logger 提供 commrt 的统一日志系统
//
// 基于标准库 log/slog，支持：
//   - 按子系统配置日志级别
//   - 环境变量配置（COMMRT_LOG_LEVEL, COMMRT_LOG_FORMAT）
//   - 通信器 Logger（interfaces.Logger）的 slog 与 zap 实现
//
// 使用示例:
//
//	var log = logger.Logger("threadpool")
//	log.Info("worker started", "pool", name)
//
//	// 通信器 Logger
//	l := logger.NewSlogLogger("server", nil)
//	l.Trace("Network", "accepted connection")
//
// 环境变量配置:
//
//	# 设置所有模块为 info，threadpool 模块为 debug
//	COMMRT_LOG_LEVEL=threadpool=debug,info
//
//	# 使用 JSON 格式输出
//	COMMRT_LOG_FORMAT=json
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	// loggers 缓存各子系统的 Logger
	loggers sync.Map // map[string]*slog.Logger

	// handlers 缓存各子系统的 Handler（用于动态调整级别）
	handlers sync.Map // map[string]*componentHandler

	// globalLogger 全局默认 Logger
	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
)

// Logger 获取指定子系统的 Logger
//
// Logger 会根据 COMMRT_LOG_LEVEL 环境变量配置日志级别。
// 同一子系统多次调用会返回相同的 Logger 实例。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	handler := newHandler(subsystem, levelFor(subsystem), cfg.Format)
	logger := slog.New(handler)

	actual, loaded := loggers.LoadOrStore(subsystem, logger)
	if !loaded {
		handlers.Store(subsystem, handler)
	}

	return actual.(*slog.Logger)
}

// GlobalLogger 返回全局 Logger
//
// 用于不属于特定子系统的日志。
func GlobalLogger() *slog.Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = Logger("commrt")
	})
	return globalLogger
}

var (
	forcedMu    sync.RWMutex
	forcedLevel *slog.Level
)

// SetGlobalLevel 设置所有子系统的日志级别
//
// 已创建的 Handler 立即生效，之后创建的 Handler 忽略 COMMRT_LOG_LEVEL。
func SetGlobalLevel(level slog.Level) {
	forcedMu.Lock()
	forcedLevel = &level
	forcedMu.Unlock()

	handlers.Range(func(_, value any) bool {
		value.(*componentHandler).SetLevel(level)
		return true
	})
}

func levelFor(subsystem string) slog.Level {
	forcedMu.RLock()
	defer forcedMu.RUnlock()
	if forcedLevel != nil {
		return *forcedLevel
	}
	return ConfigFromEnv().LevelForSubsystem(subsystem)
}

// ParseLevel 解析级别名：trace、debug、info、warn、error
func ParseLevel(name string) (slog.Level, error) {
	level, ok := parseLevel(strings.TrimSpace(name))
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// SetOutput 设置全局日志输出目标，已创建的 Logger 同样切换
func SetOutput(w io.Writer) {
	outputMu.Lock()
	output = w
	outputMu.Unlock()
}
