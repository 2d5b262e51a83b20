package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)

	log := Logger("test")
	log.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "component=test")
}

func TestSetOutput_ExistingLogger(t *testing.T) {
	log := Logger("test2")

	buf := &bytes.Buffer{}
	SetOutput(buf)

	log.Info("after switch", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "after switch")
	assert.Contains(t, output, "key=value")
}

// TestParseLevelConfig 测试子系统级别解析
func TestParseLevelConfig(t *testing.T) {
	cfg := &Config{DefaultLevel: slog.LevelInfo, SubsystemLevels: map[string]slog.Level{}}
	parseLevelConfig(cfg, "threadpool=debug, connection=warn ,error")

	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("threadpool"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("connection"))
	assert.Equal(t, slog.LevelError, cfg.LevelForSubsystem("other"))
}

// TestSlogLogger_TraceCarriesCategory 测试通信器 Logger 输出类别与前缀
func TestSlogLogger_TraceCarriesCategory(t *testing.T) {
	buf := &bytes.Buffer{}
	inner := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewSlogLogger("server", inner)
	l.Trace("Network", "accepted")
	l.Warning("careful")

	out := buf.String()
	assert.Contains(t, out, "category=Network")
	assert.Contains(t, out, "prefix=server")
	assert.Contains(t, out, "level=WARN")

	clone := l.CloneWithPrefix("other")
	assert.Equal(t, "other", clone.Prefix())
	assert.Equal(t, "server", l.Prefix())
}

// TestZapLogger 测试 zap 实现
func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(core), "p")

	l.Print("hello")
	l.Trace("Retry", "retrying")
	l.Error("boom")

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, "Retry", entries[1].ContextMap()["category"])
	assert.Equal(t, "p", entries[2].ContextMap()["prefix"])
	assert.True(t, strings.HasPrefix(entries[2].Level.String(), "error"))
}

// TestNewHandler_SharedLevel 测试写入指定输出的 Handler 与派生 Handler 共享级别
func TestNewHandler_SharedLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewHandler(buf, "instance")
	l := slog.New(h)

	l.Debug("hidden")
	l.Info("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "component=instance")
	assert.Contains(t, out, "level=info")
	assert.Contains(t, out, "k=1")

	h.(*componentHandler).SetLevel(LevelTrace)
	l.With("a", "b").Log(context.Background(), LevelTrace, "deep")
	assert.Contains(t, buf.String(), "level=trace")

	t.Log("✅ 派生 Handler 跟随级别调整")
}

// TestParseLevel_Trace 测试 trace 级别名称
func TestParseLevel_Trace(t *testing.T) {
	lvl, ok := parseLevel("TRACE")
	require.True(t, ok)
	assert.Equal(t, LevelTrace, lvl)
	assert.Equal(t, "trace", levelName(lvl))
	assert.Equal(t, "warn", levelName(slog.LevelWarn))
}

// TestConfigFromLookup 测试环境变量解析
func TestConfigFromLookup(t *testing.T) {
	env := map[string]string{
		EnvLevel:     "retry=trace,warn",
		EnvFormat:    "JSON",
		EnvAddSource: "1",
	}
	cfg := configFromLookup(func(k string) string { return env[k] })

	assert.Equal(t, slog.LevelWarn, cfg.DefaultLevel)
	assert.Equal(t, LevelTrace, cfg.LevelForSubsystem("retry"))
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)
}

// TestParseLevel_Exported 测试命令行使用的级别解析
func TestParseLevel_Exported(t *testing.T) {
	lvl, err := ParseLevel(" warn ")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
