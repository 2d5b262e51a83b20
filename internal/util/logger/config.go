package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量
const (
	// EnvLevel 级别配置，格式: 组件=级别,...,默认级别
	// 示例: threadpool=debug,connection=warn,info
	EnvLevel = "COMMRT_LOG_LEVEL"
	// EnvFormat text 或 json
	EnvFormat = "COMMRT_LOG_FORMAT"
	// EnvAddSource true 或 1 时附带源码位置
	EnvAddSource = "COMMRT_LOG_ADD_SOURCE"
)

// LogFormat 日志输出格式
type LogFormat int

const (
	// FormatText 文本格式（默认）
	FormatText LogFormat = iota
	// FormatJSON JSON 格式
	FormatJSON
)

// Config 日志配置
type Config struct {
	DefaultLevel    slog.Level
	SubsystemLevels map[string]slog.Level
	Format          LogFormat
	AddSource       bool
}

// LevelForSubsystem 组件级别，未单独配置时取默认级别
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

var (
	envConfig     *Config
	envConfigOnce sync.Once
)

// ConfigFromEnv 读取环境变量配置，进程内只解析一次
func ConfigFromEnv() *Config {
	envConfigOnce.Do(func() {
		envConfig = configFromLookup(os.Getenv)
	})
	return envConfig
}

func configFromLookup(getenv func(string) string) *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
	}
	if v := getenv(EnvLevel); v != "" {
		parseLevelConfig(cfg, v)
	}
	if strings.EqualFold(getenv(EnvFormat), "json") {
		cfg.Format = FormatJSON
	}
	switch getenv(EnvAddSource) {
	case "true", "1":
		cfg.AddSource = true
	}
	return cfg
}

// parseLevelConfig 解析 组件=级别 列表，不带组件名的一项为默认级别
//
// 无法识别的级别名被忽略。
func parseLevelConfig(cfg *Config, spec string) {
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, levelName, scoped := strings.Cut(item, "=")
		if !scoped {
			if level, ok := parseLevel(item); ok {
				cfg.DefaultLevel = level
			}
			continue
		}
		if level, ok := parseLevel(strings.TrimSpace(levelName)); ok {
			cfg.SubsystemLevels[strings.TrimSpace(name)] = level
		}
	}
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
