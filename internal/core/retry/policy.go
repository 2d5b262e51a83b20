// Package retry 实现重试间隔策略与重试队列
//
// 间隔来自 Ice.RetryIntervals（毫秒）。第 n 次重试（从 1 开始）
// 使用第 n 个间隔，超出列表长度时不再重试。
//
// Queue 把失败的调用挂到 Timer 上，到期后经客户端线程池重新提交。
// Queue 必须先于线程池销毁：未到期的条目以 ErrCommunicatorDestroyed 取消。
package retry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseIntervals 解析 Ice.RetryIntervals
//
//   - 空列表等同于 "0"
//   - 第一个值为 -1 表示不重试
//   - 无法解析的值按 0 处理
//   - 非首位的负值按 0 处理
func ParseIntervals(raw []string) []time.Duration {
	if len(raw) == 0 {
		return []time.Duration{0}
	}
	out := make([]time.Duration, 0, len(raw))
	for i, s := range raw {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			v = 0
		}
		if i == 0 && v == -1 {
			return []time.Duration{}
		}
		if v < 0 {
			v = 0
		}
		out = append(out, time.Duration(v)*time.Millisecond)
	}
	return out
}

// Policy 有界重试策略
type Policy struct {
	intervals []time.Duration
}

// PolicyFromStrings 解析 Ice.RetryIntervals 并创建策略
func PolicyFromStrings(raw []string) Policy {
	return Policy{intervals: ParseIntervals(raw)}
}

// MaxRetries 最多重试次数
func (p Policy) MaxRetries() int { return len(p.intervals) }

// Delay 返回第 attempt 次重试（从 1 开始）的延迟
//
// ok 为 false 表示不再重试。
func (p Policy) Delay(attempt int) (d time.Duration, ok bool) {
	if attempt < 1 || attempt > len(p.intervals) {
		return 0, false
	}
	return p.intervals[attempt-1], true
}

// String 以 Ice.RetryIntervals 格式输出
func (p Policy) String() string {
	if len(p.intervals) == 0 {
		return "-1"
	}
	parts := make([]string, len(p.intervals))
	for i, d := range p.intervals {
		parts[i] = fmt.Sprint(d.Milliseconds())
	}
	return strings.Join(parts, ",")
}
