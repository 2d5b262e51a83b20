// Package interfaces 定义 commrt 公共接口
//
// 本文件定义配置读取契约。
package interfaces

// PropertiesReader 配置只读契约
//
// 由 internal/core/properties.Properties 实现。
type PropertiesReader interface {
	// Get 返回属性值，不存在时返回空字符串
	Get(key string) string

	// GetWithDefault 返回属性值，不存在时返回默认值
	GetWithDefault(key, def string) string

	// GetAsInt 返回整数属性，不存在或格式错误时返回 0
	GetAsInt(key string) int

	// GetAsIntWithDefault 返回整数属性，不存在或格式错误时返回默认值
	GetAsIntWithDefault(key string, def int) int

	// GetAsList 返回列表属性（逗号或空白分隔）
	GetAsList(key string) []string

	// GetAsListWithDefault 返回列表属性，不存在时返回默认值
	GetAsListWithDefault(key string, def []string) []string

	// GetForPrefix 返回所有以 prefix 开头的属性
	GetForPrefix(prefix string) map[string]string
}
