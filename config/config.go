// Package config 提供通信器的类型化配置视图
//
// 本包把键值属性（Ice.*）转换为各组件使用的类型化配置：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，提供 Default*Config() 与 Validate()
//   - FromProperties 读取属性、应用取值约束并校验
//
// 使用示例：
//
//	props := properties.New()
//	props.Set("Ice.MessageSizeMax", "2048")
//	cfg, err := config.FromProperties(props)
//	if err != nil {
//	    return err // *types.InitializationError
//	}
//	limit := cfg.Message.MessageSizeMax // 2097152
package config

import (
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// Config 通信器完整配置
//
// 构造完成后不可变，可在不加锁的情况下读取。
type Config struct {
	// ProgramName 程序名，用作 Logger 前缀（Ice.ProgramName）
	ProgramName string `json:"program_name,omitempty"`

	// LogFile 日志文件路径（Ice.LogFile），为空时输出到标准错误
	LogFile string `json:"log_file,omitempty"`

	// Message 消息大小等限制
	Message MessageConfig `json:"message"`

	// ClientPool 客户端线程池（Ice.ThreadPool.Client.*）
	ClientPool ThreadPoolConfig `json:"client_pool"`

	// ServerPool 服务端线程池（Ice.ThreadPool.Server.*）
	ServerPool ThreadPoolConfig `json:"server_pool"`

	// ACMClient 客户端空闲连接管理（Ice.ACM.Client.*）
	ACMClient ACMConfig `json:"acm_client"`

	// ACMServer 服务端空闲连接管理（Ice.ACM.Server.*）
	ACMServer ACMConfig `json:"acm_server"`

	// Defaults 代理与端点默认值（Ice.Default.*）
	Defaults DefaultsConfig `json:"defaults"`

	// Network 网络与名称解析（Ice.IPv4、Ice.IPv6 等）
	Network NetworkConfig `json:"network"`

	// Admin 管理对象（Ice.Admin.*）
	Admin AdminConfig `json:"admin"`

	// LoggerAdmin 日志管理 facet（Ice.Admin.Logger.*）
	LoggerAdmin LoggerAdminConfig `json:"logger_admin"`

	// ToStringMode 身份与代理的字符串化模式（Ice.ToStringMode）
	ToStringMode types.ToStringMode `json:"to_string_mode"`

	// ImplicitContext 隐式上下文类型（Ice.ImplicitContext）
	ImplicitContext ImplicitContextKind `json:"implicit_context"`

	// RetryIntervals 原始重试间隔列表（Ice.RetryIntervals），由 retry 包解析
	RetryIntervals []string `json:"retry_intervals"`

	// ServerIdleTime 服务端空闲关闭时间（Ice.ServerIdleTime），0 表示不关闭
	ServerIdleTime Duration `json:"server_idle_time"`

	// PrintProcessID 启动后输出进程 ID（Ice.PrintProcessId）
	PrintProcessID bool `json:"print_process_id"`

	// PrintStackTraces 错误日志附带调用栈（Ice.PrintStackTraces）
	PrintStackTraces bool `json:"print_stack_traces"`

	// WarnUnusedProperties 销毁时报告未使用的属性（Ice.Warn.UnusedProperties）
	WarnUnusedProperties bool `json:"warn_unused_properties"`

	// InitPlugins finishSetup 阶段初始化插件（Ice.InitPlugins）
	InitPlugins bool `json:"init_plugins"`

	// PluginLoadOrder 插件加载顺序（Ice.PluginLoadOrder）
	PluginLoadOrder []string `json:"plugin_load_order,omitempty"`

	// Warnings 读取属性时被修正的取值说明，由实例输出到 Logger
	Warnings []string `json:"-"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Message:         DefaultMessageConfig(),
		ClientPool:      DefaultThreadPoolConfig(),
		ServerPool:      DefaultThreadPoolConfig(),
		ACMClient:       DefaultACMConfig(),
		ACMServer:       DefaultACMConfig(),
		Defaults:        DefaultDefaultsConfig(),
		Network:         DefaultNetworkConfig(),
		Admin:           DefaultAdminConfig(),
		LoggerAdmin:     DefaultLoggerAdminConfig(),
		ToStringMode:    types.ToStringUnicode,
		ImplicitContext: ImplicitContextNone,
		RetryIntervals:  []string{"0"},
		InitPlugins:     true,
	}
}

// FromProperties 从属性构建并校验配置
//
// 任一取值非法时返回 *types.InitializationError，且不会启动任何线程。
func FromProperties(props interfaces.PropertiesReader) (*Config, error) {
	c := NewConfig()

	c.ProgramName = props.Get("Ice.ProgramName")
	c.LogFile = props.Get("Ice.LogFile")

	c.Message = MessageConfigFromProperties(props)
	c.ClientPool = ThreadPoolConfigFromProperties(props, "Ice.ThreadPool.Client", 1)
	c.ServerPool = ThreadPoolConfigFromProperties(props, "Ice.ThreadPool.Server", 1)
	c.Warnings = append(c.Warnings, c.ClientPool.Normalize("Ice.ThreadPool.Client")...)
	c.Warnings = append(c.Warnings, c.ServerPool.Normalize("Ice.ThreadPool.Server")...)
	c.ACMClient = ACMConfigFromProperties(props, "Ice.ACM.Client")
	c.ACMServer = ACMConfigFromProperties(props, "Ice.ACM.Server")
	c.Defaults = DefaultsConfigFromProperties(props)
	c.Network = NetworkConfigFromProperties(props)
	c.Admin = AdminConfigFromProperties(props)
	c.LoggerAdmin = LoggerAdminConfigFromProperties(props)

	mode, err := types.ParseToStringMode(props.GetWithDefault("Ice.ToStringMode", "Unicode"))
	if err != nil {
		return nil, err
	}
	c.ToStringMode = mode

	kind, err := ParseImplicitContextKind(props.Get("Ice.ImplicitContext"))
	if err != nil {
		return nil, err
	}
	c.ImplicitContext = kind

	c.RetryIntervals = props.GetAsListWithDefault("Ice.RetryIntervals", []string{"0"})
	c.ServerIdleTime = Seconds(props.GetAsIntWithDefault("Ice.ServerIdleTime", 0))
	c.PrintProcessID = props.GetAsInt("Ice.PrintProcessId") > 0
	c.PrintStackTraces = props.GetAsInt("Ice.PrintStackTraces") > 0
	c.WarnUnusedProperties = props.GetAsInt("Ice.Warn.UnusedProperties") > 0
	c.InitPlugins = props.GetAsIntWithDefault("Ice.InitPlugins", 1) > 0
	c.PluginLoadOrder = props.GetAsList("Ice.PluginLoadOrder")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ============================================================================
//                              隐式上下文
// ============================================================================

// ImplicitContextKind 隐式上下文类型
type ImplicitContextKind int

const (
	// ImplicitContextNone 不使用隐式上下文
	ImplicitContextNone ImplicitContextKind = iota
	// ImplicitContextShared 所有调用共享一个上下文
	ImplicitContextShared
	// ImplicitContextPerThread 每个调用链（context.Context）独立的上下文
	ImplicitContextPerThread
)

// String 返回类型名称
func (k ImplicitContextKind) String() string {
	switch k {
	case ImplicitContextShared:
		return "Shared"
	case ImplicitContextPerThread:
		return "PerThread"
	default:
		return "None"
	}
}

// ParseImplicitContextKind 解析 Ice.ImplicitContext 取值
func ParseImplicitContextKind(s string) (ImplicitContextKind, error) {
	switch s {
	case "", "None":
		return ImplicitContextNone, nil
	case "Shared":
		return ImplicitContextShared, nil
	case "PerThread":
		return ImplicitContextPerThread, nil
	default:
		return ImplicitContextNone, types.NewInitializationError("'%s' is not a valid value for Ice.ImplicitContext", s)
	}
}
