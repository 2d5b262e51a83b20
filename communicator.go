package commrt

import (
	"context"

	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/implicitctx"
	"github.com/dep2p/go-commrt/internal/core/instance"
	"github.com/dep2p/go-commrt/internal/core/plugin"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("commrt")

type (
	// PluginManager 插件管理器
	PluginManager = plugin.Manager

	// PluginFactory 插件工厂
	PluginFactory = plugin.Factory

	// PluginHost 插件工厂可见的通信器视图
	PluginHost = plugin.Host

	// Plugin 通信器插件
	Plugin = interfaces.Plugin

	// ImplicitContext 隐式请求上下文
	ImplicitContext = implicitctx.ImplicitContext
)

// RegisterPlugin 以入口名登记插件工厂，Ice.Plugin.<name>=<entryPoint> 引用该入口
func RegisterPlugin(entryPoint string, f PluginFactory) {
	plugin.Register(entryPoint, f)
}

// UndestroyedCount 返回已创建但尚未销毁的通信器数量
func UndestroyedCount() int {
	return instance.UndestroyedCount()
}

// ════════════════════════════════════════════════════════════════════════════
//                              Communicator
// ════════════════════════════════════════════════════════════════════════════

// Communicator 通信器
//
// 所有方法并发安全。销毁后返回 error 的方法返回 ErrCommunicatorDestroyed。
type Communicator struct {
	inst *instance.Instance
}

// Initialize 创建并初始化通信器
//
// 初始化分两个阶段：构造所有组件，然后加载插件、注册管理 facet、
// 设置默认定位器与路由器并按需创建管理对象。任一阶段失败时
// 已创建的组件全部销毁并返回错误。
func Initialize(ctx context.Context, opts ...Option) (*Communicator, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}

	inst, err := instance.New(o.initData())
	if err != nil {
		return nil, err
	}
	if err := inst.FinishSetup(ctx); err != nil {
		logger.Warn("通信器初始化失败", "id", inst.ID(), "error", err)
		inst.Destroy()
		return nil, err
	}

	logger.Info("通信器已创建", "id", inst.ID())
	return &Communicator{inst: inst}, nil
}

// ID 通信器实例 ID
func (c *Communicator) ID() string {
	return c.inst.ID()
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Destroy 销毁通信器
//
// 停用所有适配器、关闭所有连接、停止线程池与定时器，最后销毁插件。
// 可以并发调用，返回时销毁已经完成。
func (c *Communicator) Destroy() {
	c.inst.Destroy()
}

// DestroyAsync 在后台销毁通信器，完成后调用 cb
func (c *Communicator) DestroyAsync(cb func()) {
	c.inst.DestroyAsync(cb)
}

// IsDestroyed 是否已销毁
func (c *Communicator) IsDestroyed() bool {
	return c.inst.IsDestroyed()
}

// Done 返回销毁完成时关闭的 channel
func (c *Communicator) Done() <-chan struct{} {
	return c.inst.Done()
}

// Shutdown 停用所有对象适配器
//
// 已在执行的分派继续完成，之后不能再创建适配器。
func (c *Communicator) Shutdown() {
	if f, err := c.inst.ObjectAdapterFactory(); err == nil {
		f.Shutdown()
	}
}

// IsShutdown 是否已调用 Shutdown 或已销毁
func (c *Communicator) IsShutdown() bool {
	f, err := c.inst.ObjectAdapterFactory()
	if err != nil {
		return true
	}
	return f.IsShutdown()
}

// WaitForShutdown 阻塞到 Shutdown 被调用且所有适配器停用完成
func (c *Communicator) WaitForShutdown(ctx context.Context) error {
	f, err := c.inst.ObjectAdapterFactory()
	if err != nil {
		return nil
	}
	return f.WaitForShutdown(ctx)
}

// ════════════════════════════════════════════════════════════════════════════
//                              对象适配器
// ════════════════════════════════════════════════════════════════════════════

// CreateObjectAdapter 创建对象适配器，端点等配置读取 <name>.*
//
// name 为空时创建不读取配置、只能用于并置调用的匿名适配器。
func (c *Communicator) CreateObjectAdapter(name string) (*ObjectAdapter, error) {
	f, err := c.inst.ObjectAdapterFactory()
	if err != nil {
		return nil, err
	}
	return f.Create(name, adapter.CreateOptions{})
}

// CreateObjectAdapterWithEndpoints 创建对象适配器，endpoints 覆盖 <name>.Endpoints
func (c *Communicator) CreateObjectAdapterWithEndpoints(name, endpoints string) (*ObjectAdapter, error) {
	f, err := c.inst.ObjectAdapterFactory()
	if err != nil {
		return nil, err
	}
	return f.Create(name, adapter.CreateOptions{Endpoints: endpoints})
}

// CreateObjectAdapterWithRouter 创建经由 router 接收请求的对象适配器
func (c *Communicator) CreateObjectAdapterWithRouter(name string, router *ObjectPrx) (*ObjectAdapter, error) {
	if router == nil {
		return nil, types.NewInitializationError("router proxy is nil")
	}
	f, err := c.inst.ObjectAdapterFactory()
	if err != nil {
		return nil, err
	}
	return f.Create(name, adapter.CreateOptions{Router: router.ref})
}

// ════════════════════════════════════════════════════════════════════════════
//                              代理
// ════════════════════════════════════════════════════════════════════════════

// CreateProxy 返回 a 上身份为 id 的对象代理
func (c *Communicator) CreateProxy(a *ObjectAdapter, id Identity) (*ObjectPrx, error) {
	ref, err := a.CreateProxy(id)
	if err != nil {
		return nil, err
	}
	return newProxy(c, ref), nil
}

// StringToProxy 解析代理字符串，空串返回 nil
func (c *Communicator) StringToProxy(s string) (*ObjectPrx, error) {
	ref, err := c.inst.Parse(s)
	if err != nil || ref == nil {
		return nil, err
	}
	return newProxy(c, ref), nil
}

// ProxyToString 返回代理的字符串形式，nil 代理返回空串
func (c *Communicator) ProxyToString(p *ObjectPrx) string {
	if p == nil {
		return ""
	}
	return c.inst.ProxyToString(p.ref)
}

// PropertyToProxy 读取名为 key 的代理属性及其 .Locator、.Router 等子属性
func (c *Communicator) PropertyToProxy(key string) (*ObjectPrx, error) {
	refs, err := c.inst.ReferenceFactory()
	if err != nil {
		return nil, err
	}
	ref, err := refs.PropertyToReference(c.inst.Properties(), key)
	if err != nil || ref == nil {
		return nil, err
	}
	return newProxy(c, ref), nil
}

// SetDefaultLocator 设置默认定位器，nil 表示清除
func (c *Communicator) SetDefaultLocator(p *ObjectPrx) error {
	return c.inst.SetDefaultLocator(p.reference())
}

// SetDefaultRouter 设置默认路由器，nil 表示清除
func (c *Communicator) SetDefaultRouter(p *ObjectPrx) error {
	return c.inst.SetDefaultRouter(p.reference())
}

// DefaultLocator 返回默认定位器，未设置时返回 nil
func (c *Communicator) DefaultLocator() (*ObjectPrx, error) {
	refs, err := c.inst.ReferenceFactory()
	if err != nil {
		return nil, err
	}
	if l := refs.DefaultLocator(); l != nil {
		return newProxy(c, l), nil
	}
	return nil, nil
}

// DefaultRouter 返回默认路由器，未设置时返回 nil
func (c *Communicator) DefaultRouter() (*ObjectPrx, error) {
	refs, err := c.inst.ReferenceFactory()
	if err != nil {
		return nil, err
	}
	if r := refs.DefaultRouter(); r != nil {
		return newProxy(c, r), nil
	}
	return nil, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              访问器
// ════════════════════════════════════════════════════════════════════════════

// Properties 通信器属性
func (c *Communicator) Properties() *Properties {
	return c.inst.Properties()
}

// Logger 通信器日志
func (c *Communicator) Logger() Logger {
	return c.inst.Logger()
}

// ImplicitContext 隐式上下文，Ice.ImplicitContext 未设置时为 nil
func (c *Communicator) ImplicitContext() ImplicitContext {
	return c.inst.ImplicitContext()
}

// Observer 通信器观察者
func (c *Communicator) Observer() CommunicatorObserver {
	return c.inst.Observer()
}

// PluginManager 插件管理器
func (c *Communicator) PluginManager() (*PluginManager, error) {
	return c.inst.PluginManager()
}

// ════════════════════════════════════════════════════════════════════════════
//                              管理对象
// ════════════════════════════════════════════════════════════════════════════

// CreateAdmin 在 a 上创建管理对象，a 为 nil 时使用 Ice.Admin.Endpoints 创建适配器
func (c *Communicator) CreateAdmin(ctx context.Context, a *ObjectAdapter, id Identity) (*ObjectPrx, error) {
	ref, err := c.inst.CreateAdmin(ctx, a, id)
	if err != nil {
		return nil, err
	}
	return newProxy(c, ref), nil
}

// GetAdmin 返回管理对象代理，必要时创建；未启用管理对象时返回 nil
func (c *Communicator) GetAdmin(ctx context.Context) (*ObjectPrx, error) {
	ref, err := c.inst.GetAdmin(ctx)
	if err != nil || ref == nil {
		return nil, err
	}
	return newProxy(c, ref), nil
}

// AddAdminFacet 注册管理 facet
func (c *Communicator) AddAdminFacet(s Servant, facet string) error {
	return c.inst.AddAdminFacet(s, facet)
}

// RemoveAdminFacet 移除管理 facet
func (c *Communicator) RemoveAdminFacet(facet string) (Servant, error) {
	return c.inst.RemoveAdminFacet(facet)
}

// FindAdminFacet 查找管理 facet，不存在时返回 nil
func (c *Communicator) FindAdminFacet(facet string) (Servant, error) {
	return c.inst.FindAdminFacet(facet)
}

// FindAllAdminFacets 返回所有管理 facet
func (c *Communicator) FindAllAdminFacets() (map[string]Servant, error) {
	return c.inst.FindAllAdminFacets()
}
