package config

import (
	"time"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// NetworkConfig 网络与名称解析配置
type NetworkConfig struct {
	// IPv4 允许 IPv4 地址
	IPv4 bool `json:"ipv4"`

	// IPv6 允许 IPv6 地址
	IPv6 bool `json:"ipv6"`

	// PreferIPv6 解析结果中 IPv6 地址排在前面
	PreferIPv6 bool `json:"prefer_ipv6"`

	// DNSCacheTimeout 解析结果缓存时长，0 表示不缓存
	DNSCacheTimeout Duration `json:"dns_cache_timeout"`

	// DNSCacheSize 解析结果缓存条目上限
	DNSCacheSize int `json:"dns_cache_size"`
}

// DefaultNetworkConfig 返回默认网络配置
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		IPv4:            true,
		IPv6:            true,
		DNSCacheTimeout: Duration(30 * time.Second),
		DNSCacheSize:    256,
	}
}

// NetworkConfigFromProperties 读取 Ice.IPv4、Ice.IPv6 等属性
func NetworkConfigFromProperties(props interfaces.PropertiesReader) NetworkConfig {
	return NetworkConfig{
		IPv4:            props.GetAsIntWithDefault("Ice.IPv4", 1) > 0,
		IPv6:            props.GetAsIntWithDefault("Ice.IPv6", 1) > 0,
		PreferIPv6:      props.GetAsInt("Ice.PreferIPv6Address") > 0,
		DNSCacheTimeout: Seconds(props.GetAsIntWithDefault("Ice.DNSCacheTimeout", 30)),
		DNSCacheSize:    props.GetAsIntWithDefault("Ice.DNSCacheSize", 256),
	}
}

// Validate 验证网络配置
func (c NetworkConfig) Validate() error {
	if !c.IPv4 && !c.IPv6 {
		return types.NewInitializationError("both IPv4 and IPv6 support cannot be disabled")
	}
	return nil
}
