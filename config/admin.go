package config

import "github.com/dep2p/go-commrt/pkg/interfaces"

// AdminConfig 管理对象配置
type AdminConfig struct {
	// Enabled 是否启用管理对象
	// Ice.Admin.Enabled 未设置时，由是否配置了 Ice.Admin.Endpoints 决定
	Enabled bool `json:"enabled"`

	// Endpoints 管理适配器端点（Ice.Admin.Endpoints）
	Endpoints string `json:"endpoints,omitempty"`

	// Facets facet 白名单（Ice.Admin.Facets），为空表示全部启用
	Facets []string `json:"facets,omitempty"`

	// InstanceName 管理身份的类别（Ice.Admin.InstanceName），为空时使用 UUID
	InstanceName string `json:"instance_name,omitempty"`

	// ServerID 向定位器注册 Process 代理所用的服务器 ID（Ice.Admin.ServerId）
	ServerID string `json:"server_id,omitempty"`

	// DelayCreation 延迟到首次 GetAdmin 时才创建管理对象
	DelayCreation bool `json:"delay_creation"`

	// HTTPEndpoint 本地诊断 HTTP 服务地址（Ice.Admin.HTTP.Endpoint），为空表示不启动
	HTTPEndpoint string `json:"http_endpoint,omitempty"`
}

// DefaultAdminConfig 返回默认管理配置
func DefaultAdminConfig() AdminConfig {
	return AdminConfig{}
}

// AdminConfigFromProperties 读取 Ice.Admin.* 属性
func AdminConfigFromProperties(props interfaces.PropertiesReader) AdminConfig {
	c := AdminConfig{
		Endpoints:     props.Get("Ice.Admin.Endpoints"),
		Facets:        props.GetAsList("Ice.Admin.Facets"),
		InstanceName:  props.Get("Ice.Admin.InstanceName"),
		ServerID:      props.Get("Ice.Admin.ServerId"),
		DelayCreation: props.GetAsInt("Ice.Admin.DelayCreation") > 0,
		HTTPEndpoint:  props.Get("Ice.Admin.HTTP.Endpoint"),
	}
	if props.Get("Ice.Admin.Enabled") == "" {
		c.Enabled = c.Endpoints != ""
	} else {
		c.Enabled = props.GetAsInt("Ice.Admin.Enabled") > 0
	}
	return c
}

// FacetAllowed 判断 facet 是否在白名单内
func (c AdminConfig) FacetAllowed(name string) bool {
	if len(c.Facets) == 0 {
		return true
	}
	for _, f := range c.Facets {
		if f == name {
			return true
		}
	}
	return false
}

// LoggerAdminConfig 日志管理 facet 配置
type LoggerAdminConfig struct {
	// KeepLogs 保留的最近非跟踪消息条数
	KeepLogs int `json:"keep_logs"`

	// KeepTraces 保留的最近跟踪消息条数
	KeepTraces int `json:"keep_traces"`

	// TraceLevel 日志管理自身的跟踪级别（Ice.Trace.Admin.Logger）
	TraceLevel int `json:"trace_level"`
}

// DefaultLoggerAdminConfig 返回默认日志管理配置
func DefaultLoggerAdminConfig() LoggerAdminConfig {
	return LoggerAdminConfig{KeepLogs: 100, KeepTraces: 100}
}

// LoggerAdminConfigFromProperties 读取 Ice.Admin.Logger.* 属性
func LoggerAdminConfigFromProperties(props interfaces.PropertiesReader) LoggerAdminConfig {
	c := LoggerAdminConfig{
		KeepLogs:   props.GetAsIntWithDefault("Ice.Admin.Logger.KeepLogs", 100),
		KeepTraces: props.GetAsIntWithDefault("Ice.Admin.Logger.KeepTraces", 100),
		TraceLevel: props.GetAsInt("Ice.Trace.Admin.Logger"),
	}
	if c.KeepLogs < 0 {
		c.KeepLogs = 0
	}
	if c.KeepTraces < 0 {
		c.KeepTraces = 0
	}
	return c
}
