package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration 属性派生的时长
//
// 属性以整数秒或毫秒给出时长，负值表示无限（Ice.Default.InvocationTimeout=-1）。
// 无限统一存为 Infinite，JSON 中输出为 "infinite"。
type Duration time.Duration

// Infinite 无限时长
const Infinite = Duration(-1)

// Seconds 以秒数构造 Duration，负数为 Infinite
func Seconds(n int) Duration {
	if n < 0 {
		return Infinite
	}
	return Duration(time.Duration(n) * time.Second)
}

// Milliseconds 以毫秒数构造 Duration，负数为 Infinite
func Milliseconds(n int) Duration {
	if n < 0 {
		return Infinite
	}
	return Duration(time.Duration(n) * time.Millisecond)
}

// IsInfinite 是否无限
func (d Duration) IsInfinite() bool {
	return d < 0
}

// Duration 返回 time.Duration，无限时为 -1ns
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	if d.IsInfinite() {
		return "infinite"
	}
	return time.Duration(d).String()
}

// MarshalJSON 输出 "1.5s" 或 "infinite"
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON 接受 time.ParseDuration 字符串、"infinite" 或整数毫秒
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(s, "infinite") {
			*d = Infinite
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var ms int
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string or integer milliseconds: %s", data)
	}
	*d = Milliseconds(ms)
	return nil
}
