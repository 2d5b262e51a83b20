package instance

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/admin"
	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/implicitctx"
	"github.com/dep2p/go-commrt/internal/core/introspect"
	"github.com/dep2p/go-commrt/internal/core/invocation"
	"github.com/dep2p/go-commrt/internal/core/lifecycle"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/metrics"
	"github.com/dep2p/go-commrt/internal/core/plugin"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/resolver"
	"github.com/dep2p/go-commrt/internal/core/retry"
	"github.com/dep2p/go-commrt/internal/core/ssl"
	"github.com/dep2p/go-commrt/internal/core/threadpool"
	"github.com/dep2p/go-commrt/internal/core/timer"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/instance")

// 线程池名称，同时是其配置前缀
const (
	ClientPoolName = "Ice.ThreadPool.Client"
	ServerPoolName = "Ice.ThreadPool.Server"
)

// InitData 构造实例的初始数据
type InitData struct {
	// Properties 配置，nil 时使用空配置
	Properties *properties.Properties

	// Logger 通信器 Logger，nil 时由 Ice.LogFile 或标准错误决定
	Logger interfaces.Logger

	// Observer 插桩入口，nil 时按配置创建 Prometheus 观察者
	Observer interfaces.CommunicatorObserver

	// Stdout、Stderr Process facet 与 Ice.PrintProcessId 的输出，默认为进程标准输出
	Stdout io.Writer
	Stderr io.Writer
}

// ============================================================================
//                              Instance 结构
// ============================================================================

// Instance 通信器实例
//
// 除构造后不可变的字段外，所有字段由 lc 的锁保护。
type Instance struct {
	id string
	lc *lifecycle.Coordinator

	// 构造后不可变
	props       *properties.Properties
	cfg         *config.Config
	traces      *tracelevels.TraceLevels
	policy      retry.Policy
	implicitCtx implicitctx.ImplicitContext
	logger      interfaces.Logger
	observer    interfaces.CommunicatorObserver
	metrics     *metrics.Observer
	loggerAdmin *admin.LoggerAdmin
	invoker     *invocation.Invoker
	stdout      io.Writer
	stderr      io.Writer

	// 拥有的组件，销毁完成时置空
	sslEngine  *ssl.Engine
	endpoints  *endpoint.FactoryManager
	refs       *reference.Factory
	timer      *timer.Timer
	resolver   *resolver.Resolver
	monitors   acmMonitors
	locators   *locator.Manager
	routers    *locator.RouterManager
	outgoing   *connection.OutgoingFactory
	adapters   *adapter.Factory
	retryQueue *retry.Queue
	plugins    *plugin.Manager
	clientPool *threadpool.ThreadPool
	serverPool *threadpool.ThreadPool
	introspect *introspect.Server

	// lastRefs 供内部闭包读取当前 Reference 工厂，销毁后不置空
	lastRefs atomic.Pointer[reference.Factory]

	// 管理对象
	adminCond     *sync.Cond
	adminAdapter  *adapter.ObjectAdapter
	adminIdentity types.Identity
	adminCreating bool
	adminFacets   map[string]interfaces.Servant
	adminFilter   admin.Filter

	stepMu        sync.Mutex
	stepObservers []func(name string)
}

// New 创建实例并完成第一阶段构造
//
// 实例先登记到全局注册表；构造失败时执行 Destroy（同时注销）并返回错误。
// 配置非法时在启动任何 goroutine 之前失败。
func New(data InitData) (*Instance, error) {
	if data.Properties == nil {
		data.Properties = properties.New()
	}
	if data.Stdout == nil {
		data.Stdout = os.Stdout
	}
	if data.Stderr == nil {
		data.Stderr = os.Stderr
	}

	i := &Instance{
		id:          uuid.NewString(),
		lc:          lifecycle.NewCoordinator(),
		props:       data.Properties,
		stdout:      data.Stdout,
		stderr:      data.Stderr,
		adminFacets: make(map[string]interfaces.Servant),
	}
	i.adminCond = sync.NewCond(i.lc)

	register(i)
	if err := i.build(data); err != nil {
		logger.Warn("实例构造失败", "error", err)
		i.Destroy()
		return nil, err
	}
	logger.Debug("实例已创建", "id", i.id, "program", i.cfg.ProgramName)
	return i, nil
}

func (i *Instance) name() string {
	if i.cfg != nil && i.cfg.ProgramName != "" {
		return fmt.Sprintf("%s (%s)", i.cfg.ProgramName, i.id)
	}
	return i.id
}

// ============================================================================
//                              不可变字段
// ============================================================================

// ID 实例 ID
func (i *Instance) ID() string { return i.id }

// Properties 配置
func (i *Instance) Properties() *properties.Properties { return i.props }

// Config 类型化配置
func (i *Instance) Config() *config.Config { return i.cfg }

// TraceLevels 跟踪级别
func (i *Instance) TraceLevels() *tracelevels.TraceLevels { return i.traces }

// Logger 通信器 Logger
func (i *Instance) Logger() interfaces.Logger { return i.logger }

// Observer 插桩入口，可能为 nil
func (i *Instance) Observer() interfaces.CommunicatorObserver { return i.observer }

// ImplicitContext 隐式上下文，Ice.ImplicitContext=None 时为 nil
func (i *Instance) ImplicitContext() implicitctx.ImplicitContext { return i.implicitCtx }

// MessageSizeMax 消息大小上限（字节）
func (i *Instance) MessageSizeMax() int { return i.cfg.Message.MessageSizeMax }

// BatchAutoFlushSize 批量请求自动刷新阈值（字节）
func (i *Instance) BatchAutoFlushSize() int { return i.cfg.Message.BatchAutoFlushSize }

// ClassGraphDepthMax 类图最大深度
func (i *Instance) ClassGraphDepthMax() int { return i.cfg.Message.ClassGraphDepthMax }

// ToStringMode 身份与代理的字符串化模式
func (i *Instance) ToStringMode() types.ToStringMode { return i.cfg.ToStringMode }

// Defaults 代理与端点默认值
func (i *Instance) Defaults() config.DefaultsConfig { return i.cfg.Defaults }

// Metrics Prometheus 观察者，未启用时为 nil
func (i *Instance) Metrics() *metrics.Observer { return i.metrics }

// LoggerAdmin 日志管理 facet，未启用时为 nil
func (i *Instance) LoggerAdmin() *admin.LoggerAdmin { return i.loggerAdmin }

// State 生命周期状态
func (i *Instance) State() lifecycle.State { return i.lc.State() }

// IsDestroyed 是否已销毁
func (i *Instance) IsDestroyed() bool { return i.lc.IsDestroyed() }

// Done 销毁完成时关闭
func (i *Instance) Done() <-chan struct{} { return i.lc.Done() }

// ============================================================================
//                              组件访问器
// ============================================================================

// locked 在一次加锁内完成状态检查与句柄复制
func locked[T any](i *Instance, get func() T) (T, error) {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		var zero T
		return zero, err
	}
	return get(), nil
}

// RouterManager 路由器管理器
func (i *Instance) RouterManager() (*locator.RouterManager, error) {
	return locked(i, func() *locator.RouterManager { return i.routers })
}

// LocatorManager 定位器管理器
func (i *Instance) LocatorManager() (*locator.Manager, error) {
	return locked(i, func() *locator.Manager { return i.locators })
}

// ReferenceFactory 当前的 Reference 工厂
func (i *Instance) ReferenceFactory() (*reference.Factory, error) {
	return locked(i, func() *reference.Factory { return i.refs })
}

// OutgoingConnectionFactory 出站连接工厂
func (i *Instance) OutgoingConnectionFactory() (*connection.OutgoingFactory, error) {
	return locked(i, func() *connection.OutgoingFactory { return i.outgoing })
}

// ObjectAdapterFactory 对象适配器工厂
func (i *Instance) ObjectAdapterFactory() (*adapter.Factory, error) {
	return locked(i, func() *adapter.Factory { return i.adapters })
}

// RetryQueue 重试队列
func (i *Instance) RetryQueue() (*retry.Queue, error) {
	return locked(i, func() *retry.Queue { return i.retryQueue })
}

// EndpointHostResolver 主机名解析器
func (i *Instance) EndpointHostResolver() (*resolver.Resolver, error) {
	return locked(i, func() *resolver.Resolver { return i.resolver })
}

// Timer 定时器
func (i *Instance) Timer() (*timer.Timer, error) {
	return locked(i, func() *timer.Timer { return i.timer })
}

// EndpointFactoryManager 端点工厂管理器
func (i *Instance) EndpointFactoryManager() (*endpoint.FactoryManager, error) {
	return locked(i, func() *endpoint.FactoryManager { return i.endpoints })
}

// PluginManager 插件管理器
func (i *Instance) PluginManager() (*plugin.Manager, error) {
	return locked(i, func() *plugin.Manager { return i.plugins })
}

// SSLEngine TLS 引擎
func (i *Instance) SSLEngine() (*ssl.Engine, error) {
	return locked(i, func() *ssl.Engine { return i.sslEngine })
}

// Introspect 诊断 HTTP 服务，未配置 Ice.Admin.HTTP.Endpoint 时为 nil
func (i *Instance) Introspect() (*introspect.Server, error) {
	return locked(i, func() *introspect.Server { return i.introspect })
}

// ClientThreadPool 客户端线程池
//
// 通常在 FinishSetup 中创建；尚未创建时按需创建。
func (i *Instance) ClientThreadPool() (*threadpool.ThreadPool, error) {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return nil, err
	}
	if i.clientPool == nil {
		if err := i.lc.CheckActiveLocked(); err != nil {
			return nil, err
		}
		i.clientPool = threadpool.New(ClientPoolName, i.cfg.ClientPool, i.poolOptions()...)
	}
	return i.clientPool, nil
}

// ServerThreadPool 服务端线程池
//
// 首次访问时创建。创建时再次检查状态，销毁开始后返回 ErrCommunicatorDestroyed。
func (i *Instance) ServerThreadPool() (*threadpool.ThreadPool, error) {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return nil, err
	}
	if i.serverPool == nil {
		if err := i.lc.CheckActiveLocked(); err != nil {
			return nil, err
		}
		opts := i.poolOptions()
		if idle := i.cfg.ServerIdleTime.Duration(); idle > 0 {
			adapters := i.adapters
			opts = append(opts, threadpool.WithIdleHandler(idle, func() {
				if adapters != nil {
					adapters.Shutdown()
				}
			}))
		}
		i.serverPool = threadpool.New(ServerPoolName, i.cfg.ServerPool, opts...)
	}
	return i.serverPool, nil
}

func (i *Instance) poolOptions() []threadpool.Option {
	return []threadpool.Option{
		threadpool.WithObserver(i.observer),
		threadpool.WithLogger(i.logger),
		threadpool.WithTraceLevel(i.traces.ThreadPool),
		threadpool.WithPrintStackTraces(i.cfg.PrintStackTraces),
	}
}

// currentReferences 供组件闭包使用，不加实例锁
func (i *Instance) currentReferences() *reference.Factory {
	return i.lastRefs.Load()
}

// ============================================================================
//                              默认定位器与路由器
// ============================================================================

// SetDefaultLocator 替换默认定位器，之后创建的代理使用新值
func (i *Instance) SetDefaultLocator(l *reference.Reference) error {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return err
	}
	i.refs = i.refs.WithDefaultLocator(l)
	i.lastRefs.Store(i.refs)
	return nil
}

// SetDefaultRouter 替换默认路由器，之后创建的代理使用新值
func (i *Instance) SetDefaultRouter(r *reference.Reference) error {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return err
	}
	i.refs = i.refs.WithDefaultRouter(r)
	i.lastRefs.Store(i.refs)
	return nil
}

// ============================================================================
//                              调用与解析
// ============================================================================

// Invoke 通过 ref 调用操作
func (i *Instance) Invoke(ctx context.Context, ref *reference.Reference, operation string, mode types.OperationMode, params []byte) ([]byte, error) {
	if i.invoker == nil {
		return nil, types.ErrCommunicatorDestroyed
	}
	return i.invoker.Invoke(ctx, ref, operation, mode, params)
}

// Parse 把代理字符串解析为引用
func (i *Instance) Parse(s string) (*reference.Reference, error) {
	refs := i.currentReferences()
	if refs == nil {
		return nil, types.ErrCommunicatorDestroyed
	}
	return refs.Parse(s)
}

// ProxyToString 把引用转换为字符串
func (i *Instance) ProxyToString(ref *reference.Reference) string {
	refs := i.currentReferences()
	if refs == nil || ref == nil {
		return ""
	}
	return refs.String(ref)
}
