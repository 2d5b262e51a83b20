package config

import (
	"time"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// ACMConfig 空闲连接管理配置
type ACMConfig struct {
	// Timeout 连接空闲超过该时长且没有未完成请求时关闭，0 表示禁用
	Timeout Duration `json:"timeout"`
}

// DefaultACMConfig 返回默认 ACM 配置
func DefaultACMConfig() ACMConfig {
	return ACMConfig{Timeout: Duration(60 * time.Second)}
}

// ACMConfigFromProperties 读取 <prefix>.Timeout，缺省回落到 Ice.ACM.Timeout
func ACMConfigFromProperties(props interfaces.PropertiesReader, prefix string) ACMConfig {
	base := props.GetAsIntWithDefault("Ice.ACM.Timeout", 60)
	secs := props.GetAsIntWithDefault(prefix+".Timeout", base)
	if secs < 0 {
		secs = 0
	}
	return ACMConfig{Timeout: Seconds(secs)}
}

// Enabled 是否启用空闲检测
func (c ACMConfig) Enabled() bool {
	return c.Timeout > 0
}
