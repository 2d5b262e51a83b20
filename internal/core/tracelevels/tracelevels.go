// Package tracelevels 定义通信器跟踪级别
//
// 跟踪级别在构造时从 Ice.Trace.* 读取，之后不可变。
package tracelevels

import "github.com/dep2p/go-commrt/pkg/interfaces"

// 跟踪类别名称，作为 Logger.Trace 的 category 参数
const (
	NetworkCat         = "Network"
	ProtocolCat        = "Protocol"
	RetryCat           = "Retry"
	LocationCat        = "Locator"
	ThreadPoolCat      = "ThreadPool"
	AdminPropertiesCat = "Admin.Properties"
	AdminLoggerCat     = "Admin.Logger"
	SetupCat           = "Setup"
)

// TraceLevels 各类别的跟踪级别，0 表示关闭
type TraceLevels struct {
	Network         int
	Protocol        int
	Retry           int
	Location        int
	ThreadPool      int
	AdminProperties int
	AdminLogger     int
	Setup           int
}

// FromProperties 读取 Ice.Trace.* 属性
func FromProperties(props interfaces.PropertiesReader) *TraceLevels {
	return &TraceLevels{
		Network:         props.GetAsInt("Ice.Trace.Network"),
		Protocol:        props.GetAsInt("Ice.Trace.Protocol"),
		Retry:           props.GetAsInt("Ice.Trace.Retry"),
		Location:        props.GetAsInt("Ice.Trace.Locator"),
		ThreadPool:      props.GetAsInt("Ice.Trace.ThreadPool"),
		AdminProperties: props.GetAsInt("Ice.Trace.Admin.Properties"),
		AdminLogger:     props.GetAsInt("Ice.Trace.Admin.Logger"),
		Setup:           props.GetAsInt("Ice.Trace.Setup"),
	}
}

// Trace 当 level >= min 时输出跟踪消息
func Trace(l interfaces.Logger, level, min int, category, message string) {
	if l != nil && level >= min && level > 0 {
		l.Trace(category, message)
	}
}
