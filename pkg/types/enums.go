package types

import "fmt"

// ============================================================================
//                              ToStringMode - 字符串化模式
// ============================================================================

// ToStringMode 控制身份与代理字符串化时非 ASCII 字符的转义方式
type ToStringMode int

const (
	// ToStringUnicode 保留可打印的非 ASCII 字符（默认）
	ToStringUnicode ToStringMode = iota
	// ToStringASCII 非 ASCII 字符转义为 \unnnn / \Unnnnnnnn
	ToStringASCII
	// ToStringCompat 非 ASCII 字符按 UTF-8 字节转义为八进制 \ooo
	ToStringCompat
)

// String 返回模式名称
func (m ToStringMode) String() string {
	switch m {
	case ToStringUnicode:
		return "Unicode"
	case ToStringASCII:
		return "ASCII"
	case ToStringCompat:
		return "Compat"
	default:
		return fmt.Sprintf("ToStringMode(%d)", int(m))
	}
}

// ParseToStringMode 解析 Ice.ToStringMode 取值
func ParseToStringMode(s string) (ToStringMode, error) {
	switch s {
	case "", "Unicode":
		return ToStringUnicode, nil
	case "ASCII":
		return ToStringASCII, nil
	case "Compat":
		return ToStringCompat, nil
	default:
		return ToStringUnicode, NewInitializationError("the value for Ice.ToStringMode must be Unicode, ASCII or Compat, got %q", s)
	}
}

// ============================================================================
//                              ThreadState - 线程状态
// ============================================================================

// ThreadState 工作线程状态，用于线程观察者
type ThreadState int

const (
	// ThreadStateIdle 空闲
	ThreadStateIdle ThreadState = iota
	// ThreadStateInUseForIO 处理网络 IO
	ThreadStateInUseForIO
	// ThreadStateInUseForUser 执行用户代码（分派、回调）
	ThreadStateInUseForUser
	// ThreadStateInUseForOther 其他内部工作（定时任务、名称解析）
	ThreadStateInUseForOther
)

// String 返回状态名称
func (s ThreadState) String() string {
	switch s {
	case ThreadStateIdle:
		return "idle"
	case ThreadStateInUseForIO:
		return "inUseForIO"
	case ThreadStateInUseForUser:
		return "inUseForUser"
	case ThreadStateInUseForOther:
		return "inUseForOther"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              OperationMode - 操作模式
// ============================================================================

// OperationMode 操作幂等性
type OperationMode int

const (
	// ModeNormal 非幂等操作
	ModeNormal OperationMode = iota
	// ModeIdempotent 幂等操作，已发送后连接丢失仍可重试
	ModeIdempotent
)

// String 返回模式名称
func (m OperationMode) String() string {
	if m == ModeIdempotent {
		return "idempotent"
	}
	return "normal"
}

// ============================================================================
//                              ConnectionState - 连接状态
// ============================================================================

// ConnectionState 连接状态，用于连接观察者
type ConnectionState int

const (
	// ConnectionStateValidating 正在验证
	ConnectionStateValidating ConnectionState = iota
	// ConnectionStateHolding 暂停读取
	ConnectionStateHolding
	// ConnectionStateActive 活跃
	ConnectionStateActive
	// ConnectionStateClosing 正在关闭
	ConnectionStateClosing
	// ConnectionStateClosed 已关闭
	ConnectionStateClosed
)

// String 返回状态名称
func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateValidating:
		return "validating"
	case ConnectionStateHolding:
		return "holding"
	case ConnectionStateActive:
		return "active"
	case ConnectionStateClosing:
		return "closing"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
