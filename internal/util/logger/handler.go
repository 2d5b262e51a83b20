package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// LevelTrace 通信器跟踪输出（Ice.Trace.*）使用的级别，低于 Debug
const LevelTrace = slog.LevelDebug - 4

var (
	outputMu sync.RWMutex
	output   io.Writer = os.Stderr
)

// sharedWriter 每次写入时读取当前全局输出
type sharedWriter struct{}

func (sharedWriter) Write(p []byte) (int, error) {
	outputMu.RLock()
	w := output
	outputMu.RUnlock()
	return w.Write(p)
}

// componentHandler 带组件属性、级别可动态调整的 slog.Handler
//
// 派生出的 Handler（WithAttrs、WithGroup）与父 Handler 共享同一个 LevelVar。
type componentHandler struct {
	level *slog.LevelVar
	inner slog.Handler
}

// newHandler 创建写入全局输出的组件 Handler
func newHandler(component string, level slog.Level, format LogFormat) *componentHandler {
	return newWriterHandler(sharedWriter{}, component, level, format, ConfigFromEnv().AddSource)
}

// NewHandler 创建写入 w 的组件 Handler
//
// 用于通信器 Logger 需要写入 InitData.Stderr 而非全局输出的场合，
// 级别与格式仍取自 COMMRT_LOG_LEVEL / COMMRT_LOG_FORMAT。
func NewHandler(w io.Writer, component string) slog.Handler {
	cfg := ConfigFromEnv()
	return newWriterHandler(w, component, levelFor(component), cfg.Format, cfg.AddSource)
}

func newWriterHandler(w io.Writer, component string, level slog.Level, format LogFormat, addSource bool) *componentHandler {
	lv := &slog.LevelVar{}
	lv.Set(level)

	opts := &slog.HandlerOptions{
		Level:       lv,
		AddSource:   addSource,
		ReplaceAttr: replaceAttr,
	}

	var inner slog.Handler
	switch format {
	case FormatJSON:
		inner = slog.NewJSONHandler(w, opts)
	default:
		inner = slog.NewTextHandler(w, opts)
	}
	if component != "" {
		inner = inner.WithAttrs([]slog.Attr{slog.String("component", component)})
	}
	return &componentHandler{level: lv, inner: inner}
}

// replaceAttr 缩短时间键并输出小写级别名
func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(levelName(lvl))
		}
	}
	return a
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentHandler{level: h.level, inner: h.inner.WithAttrs(attrs)}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{level: h.level, inner: h.inner.WithGroup(name)}
}

// SetLevel 调整级别，对所有派生 Handler 生效
func (h *componentHandler) SetLevel(level slog.Level) {
	h.level.Set(level)
}

// levelName 级别的小写名称，跟踪级别输出为 trace
func levelName(level slog.Level) string {
	switch {
	case level <= LevelTrace:
		return "trace"
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}
