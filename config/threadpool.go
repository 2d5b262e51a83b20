package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// ThreadPoolConfig 线程池配置
type ThreadPoolConfig struct {
	// Size 常驻 worker 数量
	Size int `json:"size"`

	// SizeMax worker 数量上限，按需增长
	SizeMax int `json:"size_max"`

	// SizeWarn 忙碌 worker 达到该值时输出警告，0 表示不警告
	SizeWarn int `json:"size_warn"`

	// ThreadIdleTime 超出 Size 的 worker 空闲该时长后退出
	ThreadIdleTime Duration `json:"thread_idle_time"`

	// Serialize 同一连接的请求串行分派
	Serialize bool `json:"serialize"`
}

// DefaultThreadPoolConfig 返回默认线程池配置
func DefaultThreadPoolConfig() ThreadPoolConfig {
	return ThreadPoolConfig{
		Size:           1,
		SizeMax:        1,
		SizeWarn:       0,
		ThreadIdleTime: Duration(60 * time.Second),
	}
}

// ThreadPoolConfigFromProperties 读取 <prefix>.Size 等属性
//
// 非法组合被修正，修正说明通过 Normalize 返回。
func ThreadPoolConfigFromProperties(props interfaces.PropertiesReader, prefix string, defaultSize int) ThreadPoolConfig {
	size := props.GetAsIntWithDefault(prefix+".Size", defaultSize)
	c := ThreadPoolConfig{
		Size:           size,
		SizeMax:        props.GetAsIntWithDefault(prefix+".SizeMax", size),
		SizeWarn:       props.GetAsInt(prefix + ".SizeWarn"),
		ThreadIdleTime: Seconds(props.GetAsIntWithDefault(prefix+".ThreadIdleTime", 60)),
		Serialize:      props.GetAsInt(prefix+".Serialize") > 0,
	}
	return c
}

// Normalize 修正非法取值，返回每项修正的说明
func (c *ThreadPoolConfig) Normalize(prefix string) []string {
	var warnings []string
	if c.Size < 1 {
		warnings = append(warnings, fmt.Sprintf("%s.Size < 1; Size adjusted to 1", prefix))
		c.Size = 1
	}
	if c.SizeMax == -1 {
		c.SizeMax = runtime.NumCPU()
	}
	if c.SizeMax < c.Size {
		warnings = append(warnings, fmt.Sprintf("%s.SizeMax < %s.Size; SizeMax adjusted to Size (%d)", prefix, prefix, c.Size))
		c.SizeMax = c.Size
	}
	if c.SizeWarn != 0 && c.SizeWarn < c.Size {
		warnings = append(warnings, fmt.Sprintf("%s.SizeWarn < %s.Size; adjusted SizeWarn to Size (%d)", prefix, prefix, c.Size))
		c.SizeWarn = c.Size
	} else if c.SizeWarn > c.SizeMax {
		warnings = append(warnings, fmt.Sprintf("%s.SizeWarn > %s.SizeMax; adjusted SizeWarn to SizeMax (%d)", prefix, prefix, c.SizeMax))
		c.SizeWarn = c.SizeMax
	}
	if c.ThreadIdleTime < 0 {
		warnings = append(warnings, fmt.Sprintf("%s.ThreadIdleTime < 0; ThreadIdleTime adjusted to 0", prefix))
		c.ThreadIdleTime = 0
	}
	return warnings
}
