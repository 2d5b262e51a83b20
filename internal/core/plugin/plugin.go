// Package plugin 实现通信器插件管理
//
// 插件工厂通过 Register 以入口名登记（通常在 init 中）：
//
//	func init() {
//	    plugin.Register("mylogger", newLoggerPlugin)
//	}
//
// 通信器按 Ice.Plugin.<name>=<entryPoint> [args] 加载插件，
// Ice.PluginLoadOrder 中列出的插件先加载，其余按名称排序。
// Ice.Plugin.<name>.go 优先于 Ice.Plugin.<name>。
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/plugin")

// PropertyPrefix 插件配置前缀
const PropertyPrefix = "Ice.Plugin."

// Host 插件所在的通信器
type Host interface {
	Properties() interfaces.PropertiesReader
	Logger() interfaces.Logger
}

// Factory 创建插件
type Factory func(host Host, name string, args []string) (interfaces.Plugin, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 登记插件工厂，同名入口被覆盖
func Register(entryPoint string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[entryPoint] = f
}

func lookup(entryPoint string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[entryPoint]
	return f, ok
}

type entry struct {
	name        string
	plugin      interfaces.Plugin
	initialized bool
}

// Manager 插件管理器
type Manager struct {
	host Host

	mu          sync.Mutex
	plugins     []*entry
	initialized bool
	destroyed   bool
}

// NewManager 创建插件管理器
func NewManager(host Host) *Manager {
	return &Manager{host: host}
}

// LoadPlugins 按配置创建插件（不初始化）
func (m *Manager) LoadPlugins(props interfaces.PropertiesReader, loadOrder []string) error {
	defs := make(map[string]string)
	for key, value := range props.GetForPrefix(PropertyPrefix) {
		name := strings.TrimPrefix(key, PropertyPrefix)
		if base, ok := strings.CutSuffix(name, ".go"); ok && base != "" && !strings.Contains(base, ".") {
			defs[base] = value
			continue
		}
		if strings.Contains(name, ".") || name == "" {
			continue
		}
		if _, ok := defs[name]; !ok {
			defs[name] = value
		}
	}

	var order []string
	seen := make(map[string]bool)
	for _, name := range loadOrder {
		if seen[name] {
			continue
		}
		if _, ok := defs[name]; !ok {
			return types.NewInitializationError("plug-in `%s' not defined", name)
		}
		seen[name] = true
		order = append(order, name)
	}
	var rest []string
	for name := range defs {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)

	for _, name := range order {
		if err := m.load(name, defs[name]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) load(name, def string) error {
	tokens, err := endpoint.Tokenize(def)
	if err != nil || len(tokens) == 0 {
		return types.NewInitializationError("invalid arguments for plug-in `%s'", name)
	}
	entryPoint, args := tokens[0], tokens[1:]
	f, ok := lookup(entryPoint)
	if !ok {
		return types.NewInitializationError("unable to find plug-in factory `%s' for plug-in `%s'", entryPoint, name)
	}
	p, err := f(m.host, name, args)
	if err != nil {
		return fmt.Errorf("%w: plug-in `%s': %v", types.ErrInitialization, name, err)
	}
	if p == nil {
		return types.NewInitializationError("plug-in factory `%s' returned no plug-in", entryPoint)
	}
	logger.Debug("插件已加载", "name", name, "entryPoint", entryPoint)
	return m.AddPlugin(name, p)
}

// AddPlugin 添加已创建的插件
func (m *Manager) AddPlugin(name string, p interfaces.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return types.ErrCommunicatorDestroyed
	}
	if m.find(name) != nil {
		return types.AlreadyRegistered("plugin", name)
	}
	m.plugins = append(m.plugins, &entry{name: name, plugin: p})
	return nil
}

func (m *Manager) find(name string) *entry {
	for _, e := range m.plugins {
		if e.name == name {
			return e
		}
	}
	return nil
}

// Plugin 返回指定插件
func (m *Manager) Plugin(name string) (interfaces.Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, types.ErrCommunicatorDestroyed
	}
	if e := m.find(name); e != nil {
		return e.plugin, nil
	}
	return nil, types.NotRegistered("plugin", name)
}

// Plugins 按加载顺序返回插件名称
func (m *Manager) Plugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.plugins))
	for _, e := range m.plugins {
		names = append(names, e.name)
	}
	return names
}

// InitializePlugins 按加载顺序初始化插件，只能调用一次
//
// 某个插件初始化失败时，已初始化的插件按相反顺序销毁。
func (m *Manager) InitializePlugins() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return types.ErrCommunicatorDestroyed
	}
	if m.initialized {
		m.mu.Unlock()
		return types.NewInitializationError("plug-ins already initialized")
	}
	m.initialized = true
	plugins := append([]*entry(nil), m.plugins...)
	m.mu.Unlock()

	var done []*entry
	for _, e := range plugins {
		if err := e.plugin.Initialize(); err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				if derr := done[i].plugin.Destroy(); derr != nil {
					m.warn(fmt.Sprintf("unexpected exception raised by plug-in `%s' destruction:\n%v", done[i].name, derr))
				}
				done[i].initialized = false
			}
			return fmt.Errorf("plug-in `%s' initialization failed: %w", e.name, err)
		}
		e.initialized = true
		done = append(done, e)
	}
	return nil
}

// Destroy 按相反顺序销毁已初始化的插件，错误只记录不返回
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	plugins := m.plugins
	m.plugins = nil
	m.mu.Unlock()

	var errs error
	for i := len(plugins) - 1; i >= 0; i-- {
		e := plugins[i]
		if !e.initialized {
			continue
		}
		if err := e.plugin.Destroy(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("plug-in `%s': %w", e.name, err))
		}
	}
	for _, err := range multierr.Errors(errs) {
		m.warn(fmt.Sprintf("unexpected exception raised by plug-in destruction:\n%v", err))
	}
}

func (m *Manager) warn(msg string) {
	if m.host != nil {
		if l := m.host.Logger(); l != nil {
			l.Warning(msg)
			return
		}
	}
	logger.Warn(msg)
}
