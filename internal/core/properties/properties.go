// Package properties 实现通信器的键值配置存储
//
// 配置来源：
//   - 代码设置（Set）
//   - 命令行参数（--Ice.X=Y）
//   - Ice.Config 指定的配置文件（文本、JSON、YAML）
//
// 每次读取都会把键标记为已使用，销毁时可据此报告未使用的属性
// （Ice.Warn.UnusedProperties）。
package properties

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
)

var logger = log.Logger("core/properties")

// ReservedPrefixes 命令行中由运行时消费的属性前缀
var ReservedPrefixes = []string{"Ice", "IceSSL", "IceMX", "IceLocatorDiscovery", "IceBox"}

type entry struct {
	value string
	used  bool
}

// Properties 线程安全的属性集合
type Properties struct {
	mu    sync.RWMutex
	props map[string]*entry
}

var _ interfaces.PropertiesReader = (*Properties)(nil)

// New 创建空属性集合
func New() *Properties {
	return &Properties{props: make(map[string]*entry)}
}

// NewFromMap 以给定键值创建属性集合
func NewFromMap(m map[string]string) *Properties {
	p := New()
	for k, v := range m {
		p.Set(k, v)
	}
	return p
}

// lookup 读取并标记为已使用
func (p *Properties) lookup(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.props[key]
	if !ok {
		return "", false
	}
	e.used = true
	return e.value, true
}

// Get 返回属性值，不存在时返回空字符串
func (p *Properties) Get(key string) string {
	v, _ := p.lookup(key)
	return v
}

// GetWithDefault 返回属性值，不存在时返回默认值
func (p *Properties) GetWithDefault(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

// GetAsInt 返回整数属性
func (p *Properties) GetAsInt(key string) int {
	return p.GetAsIntWithDefault(key, 0)
}

// GetAsIntWithDefault 返回整数属性，格式错误时记录警告并返回默认值
func (p *Properties) GetAsIntWithDefault(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Warn("数值属性取值非法，使用默认值",
			"key", key, "value", v, "default", def)
		return def
	}
	return n
}

// GetAsList 返回列表属性
func (p *Properties) GetAsList(key string) []string {
	return p.GetAsListWithDefault(key, nil)
}

// GetAsListWithDefault 返回列表属性，不存在时返回默认值
//
// 元素以逗号或空白分隔，单引号或双引号内的分隔符保留。
func (p *Properties) GetAsListWithDefault(key string, def []string) []string {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	list, err := SplitList(v)
	if err != nil {
		logger.Warn("列表属性引号不匹配，使用默认值", "key", key, "value", v)
		return def
	}
	return list
}

// GetForPrefix 返回所有以 prefix 开头的属性
func (p *Properties) GetForPrefix(prefix string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string)
	for k, e := range p.props {
		if strings.HasPrefix(k, prefix) {
			e.used = true
			out[k] = e.value
		}
	}
	return out
}

// Set 设置属性；空值删除该属性
func (p *Properties) Set(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if value == "" {
		delete(p.props, key)
		return
	}
	if e, ok := p.props[key]; ok {
		e.value = value
		return
	}
	p.props[key] = &entry{value: value}
}

// Clone 复制属性集合（包括已使用标记）
func (p *Properties) Clone() *Properties {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := New()
	for k, e := range p.props {
		c.props[k] = &entry{value: e.value, used: e.used}
	}
	return c
}

// Keys 返回排序后的全部键
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.props))
	for k := range p.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnusedProperties 返回设置后从未读取的属性键
func (p *Properties) UnusedProperties() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var unused []string
	for k, e := range p.props {
		if !e.used {
			unused = append(unused, k)
		}
	}
	sort.Strings(unused)
	return unused
}

// CommandLineOptions 以 --key=value 形式返回全部属性
func (p *Properties) CommandLineOptions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.props))
	for k, e := range p.props {
		out = append(out, "--"+k+"="+e.value)
	}
	sort.Strings(out)
	return out
}

// SplitList 按逗号或空白切分，引号内的分隔符保留
func SplitList(s string) ([]string, error) {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		have  bool
	)
	flush := func() {
		if have {
			out = append(out, cur.String())
		}
		cur.Reset()
		have = false
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			have = true
		case r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if quote != 0 {
		return nil, errMismatchedQuotes
	}
	flush()
	return out, nil
}
