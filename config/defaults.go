package config

import (
	"time"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// DefaultsConfig 代理与端点默认值
type DefaultsConfig struct {
	// Protocol 端点未指定协议时使用的协议
	Protocol string `json:"protocol"`

	// Host 端点未指定 -h 时使用的主机
	Host string `json:"host,omitempty"`

	// Timeout 连接建立与读写超时，负数表示无限
	Timeout Duration `json:"timeout"`

	// InvocationTimeout 调用超时，负数表示无限
	InvocationTimeout Duration `json:"invocation_timeout"`

	// LocatorCacheTimeout 定位缓存有效期，负数表示永不过期，0 表示不缓存
	LocatorCacheTimeout Duration `json:"locator_cache_timeout"`

	// Locator 默认定位器代理字符串
	Locator string `json:"locator,omitempty"`

	// Router 默认路由器代理字符串
	Router string `json:"router,omitempty"`

	// PreferSecure 优先选择安全端点
	PreferSecure bool `json:"prefer_secure"`
}

// DefaultDefaultsConfig 返回默认值配置
func DefaultDefaultsConfig() DefaultsConfig {
	return DefaultsConfig{
		Protocol:            "tcp",
		Timeout:             Duration(60 * time.Second),
		InvocationTimeout:   -1,
		LocatorCacheTimeout: -1,
	}
}

// DefaultsConfigFromProperties 读取 Ice.Default.* 属性
func DefaultsConfigFromProperties(props interfaces.PropertiesReader) DefaultsConfig {
	c := DefaultsConfig{
		Protocol:            props.GetWithDefault("Ice.Default.Protocol", "tcp"),
		Host:                props.Get("Ice.Default.Host"),
		Timeout:             Milliseconds(props.GetAsIntWithDefault("Ice.Default.Timeout", 60000)),
		InvocationTimeout:   Milliseconds(props.GetAsIntWithDefault("Ice.Default.InvocationTimeout", -1)),
		LocatorCacheTimeout: Seconds(props.GetAsIntWithDefault("Ice.Default.LocatorCacheTimeout", -1)),
		Locator:             props.Get("Ice.Default.Locator"),
		Router:              props.Get("Ice.Default.Router"),
		PreferSecure:        props.GetAsInt("Ice.Default.PreferSecure") > 0,
	}
	if c.Timeout < 0 {
		c.Timeout = -1
	}
	if c.InvocationTimeout < 0 {
		c.InvocationTimeout = -1
	}
	if c.LocatorCacheTimeout < 0 {
		c.LocatorCacheTimeout = -1
	}
	return c
}
