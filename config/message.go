package config

import "github.com/dep2p/go-commrt/pkg/interfaces"

// maxInt32 协议允许的最大消息字节数
const maxInt32 = 0x7fffffff

// MessageConfig 消息与编码限制
type MessageConfig struct {
	// MessageSizeMax 单条消息最大字节数
	// 属性以 KB 为单位，超出 [1, 0x7fffffff/1024] 时取 0x7fffffff
	MessageSizeMax int `json:"message_size_max"`

	// BatchAutoFlushSize 批量请求自动刷新阈值（字节），小于 1 表示禁用
	BatchAutoFlushSize int `json:"batch_auto_flush_size"`

	// ClassGraphDepthMax 对象图最大深度
	ClassGraphDepthMax int `json:"class_graph_depth_max"`
}

// DefaultMessageConfig 返回默认消息配置
func DefaultMessageConfig() MessageConfig {
	return MessageConfig{
		MessageSizeMax:     1024 * 1024, // 1024 KB
		BatchAutoFlushSize: 1024 * 1024, // 1024 KB
		ClassGraphDepthMax: 50,
	}
}

// MessageConfigFromProperties 读取 Ice.MessageSizeMax 等属性并应用取值约束
func MessageConfigFromProperties(props interfaces.PropertiesReader) MessageConfig {
	return MessageConfig{
		MessageSizeMax:     ClampMessageSizeMax(props.GetAsIntWithDefault("Ice.MessageSizeMax", 1024)),
		BatchAutoFlushSize: clampBatchAutoFlushSize(props.GetAsIntWithDefault("Ice.BatchAutoFlushSize", 1024)),
		ClassGraphDepthMax: clampClassGraphDepthMax(props.GetAsIntWithDefault("Ice.ClassGraphDepthMax", 50)),
	}
}

// ClampMessageSizeMax 把以 KB 表示的取值换算为字节上限
func ClampMessageSizeMax(kb int) int {
	if kb < 1 || kb > maxInt32/1024 {
		return maxInt32
	}
	return kb * 1024
}

func clampBatchAutoFlushSize(kb int) int {
	switch {
	case kb < 1:
		return kb
	case kb > maxInt32/1024:
		return maxInt32
	default:
		return kb * 1024
	}
}

func clampClassGraphDepthMax(n int) int {
	if n < 1 || n > maxInt32 {
		return maxInt32
	}
	return n
}
