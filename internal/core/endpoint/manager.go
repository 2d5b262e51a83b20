package endpoint

import (
	"strings"
	"sync"
	"time"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/ssl"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/endpoint")

// Defaults 创建端点时使用的默认值
type Defaults struct {
	// Protocol "default" 对应的协议
	Protocol string
	// Host 未指定 -h 时的主机
	Host string
	// Timeout 未指定 -t 时的超时
	Timeout time.Duration
}

// DefaultsFromConfig 从 Ice.Default.* 配置构建端点默认值
func DefaultsFromConfig(c config.DefaultsConfig) Defaults {
	return Defaults{Protocol: c.Protocol, Host: c.Host, Timeout: c.Timeout.Duration()}
}

// ============================================================================
//                              FactoryManager 实现
// ============================================================================

// FactoryManager 端点工厂注册表
//
// 管理按协议名注册的工厂，提供统一的端点解析入口。
type FactoryManager struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
	defaults  Defaults
	destroyed bool
}

// NewFactoryManager 创建注册表并注册 tcp、ssl、ws、wss
func NewFactoryManager(defaults Defaults, engine *ssl.Engine) *FactoryManager {
	m := &FactoryManager{factories: make(map[string]Factory), defaults: defaults}
	for _, f := range []Factory{
		NewTCPFactory(false, engine),
		NewTCPFactory(true, engine),
		NewWSFactory(false, engine),
		NewWSFactory(true, engine),
	} {
		_ = m.Add(f)
	}
	return m
}

// Add 注册工厂
//
// 同协议已有工厂时返回 AlreadyRegistered。
func (m *FactoryManager) Add(f Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return types.ErrCommunicatorDestroyed
	}
	if _, ok := m.factories[f.Protocol()]; ok {
		return types.AlreadyRegistered("endpoint factory", f.Protocol())
	}
	m.factories[f.Protocol()] = f
	m.order = append(m.order, f.Protocol())
	logger.Debug("已注册端点工厂", "protocol", f.Protocol())
	return nil
}

// Get 返回协议对应的工厂
func (m *FactoryManager) Get(protocol string) Factory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.factories[protocol]
}

// Protocols 返回已注册协议（按注册顺序）
func (m *FactoryManager) Protocols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Defaults 返回端点默认值
func (m *FactoryManager) Defaults() Defaults {
	return m.defaults
}

// Initialize 检查安全传输是否具备 TLS 配置
//
// 缺少证书不是初始化错误，只影响 ssl / wss 服务端端点。
func (m *FactoryManager) Initialize(engine *ssl.Engine) {
	if !engine.HasCertificate() {
		logger.Debug("未配置 TLS 证书，安全服务端端点不可用")
	}
}

// Parse 解析单个端点
func (m *FactoryManager) Parse(s string) (Endpoint, error) {
	args, err := Tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, parseError("value has no non-whitespace characters")
	}

	protocol := args[0]
	if protocol == "default" {
		protocol = m.defaults.Protocol
	}

	m.mu.RLock()
	f, ok := m.factories[protocol]
	destroyed := m.destroyed
	m.mu.RUnlock()
	if destroyed {
		return nil, types.ErrCommunicatorDestroyed
	}
	if !ok {
		return nil, parseError("unknown endpoint protocol `%s'", args[0])
	}
	return f.Create(args[1:], m.defaults)
}

// ParseList 解析以 ":" 分隔的端点列表
func (m *FactoryManager) ParseList(s string) ([]Endpoint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var eps []Endpoint
	for _, part := range SplitList(s) {
		if part == "" {
			return nil, parseError("empty endpoint in `%s'", s)
		}
		ep, err := m.Parse(part)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Destroy 关闭所有工厂
func (m *FactoryManager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	factories := make([]Factory, 0, len(m.order))
	for _, p := range m.order {
		factories = append(factories, m.factories[p])
	}
	m.mu.Unlock()

	for _, f := range factories {
		f.Destroy()
	}
}

// ListToString 把端点列表格式化为 ":" 分隔的字符串
func ListToString(eps []Endpoint) string {
	parts := make([]string, len(eps))
	for i, e := range eps {
		parts[i] = e.String()
	}
	return strings.Join(parts, ":")
}
