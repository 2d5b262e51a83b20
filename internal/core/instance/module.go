package instance

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/admin"
	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/connmgr"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/implicitctx"
	"github.com/dep2p/go-commrt/internal/core/invocation"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/metrics"
	"github.com/dep2p/go-commrt/internal/core/plugin"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/resolver"
	"github.com/dep2p/go-commrt/internal/core/retry"
	"github.com/dep2p/go-commrt/internal/core/ssl"
	"github.com/dep2p/go-commrt/internal/core/timer"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	utillog "github.com/dep2p/go-commrt/internal/util/logger"
	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// ============================================================================
//                              第一阶段构造
// ============================================================================

// build 通过 Fx 按依赖顺序构建组件
//
// 只使用 Fx 的依赖注入，不调用 Start：组件的 goroutine 由各自的构造函数启动，
// 停止由 Destroy 的固定顺序负责。每个字段单独 Populate，
// 构造中途失败时已创建的组件已经写入实例，由 Destroy 清理。
func (i *Instance) build(data InitData) error {
	// 配置校验最先执行，非法配置不会启动任何 goroutine
	cfg, err := config.FromProperties(data.Properties)
	if err != nil {
		return err
	}
	i.cfg = cfg

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger { return fxLogger(data.Properties) }),
		fx.Supply(i, data, data.Properties, cfg),
		fx.Provide(
			provideTraceLevels,
			provideBaseLogger,
			provideSSLEngine,
			provideEndpoints,
			provideReferences,
			provideImplicitContext,
			providePolicy,
			provideMetrics,
			provideObserver,
			provideLoggerAdmin,
			provideLogger,
			provideTimer,
			provideResolver,
			provideMonitors,
			provideLocators,
			provideRouters,
			provideOutgoing,
			provideAdapters,
			provideRetryQueue,
			provideInvoker,
			providePlugins,
		),
		fx.Populate(&i.traces),
		fx.Populate(&i.sslEngine),
		fx.Populate(&i.endpoints),
		fx.Populate(&i.refs),
		fx.Populate(&i.implicitCtx),
		fx.Populate(&i.policy),
		fx.Populate(&i.metrics),
		fx.Populate(&i.observer),
		fx.Populate(&i.loggerAdmin),
		fx.Populate(&i.logger),
		fx.Populate(&i.timer),
		fx.Populate(&i.resolver),
		fx.Populate(&i.monitors),
		fx.Populate(&i.locators),
		fx.Populate(&i.routers),
		fx.Populate(&i.outgoing),
		fx.Populate(&i.adapters),
		fx.Populate(&i.retryQueue),
		fx.Populate(&i.invoker),
		fx.Populate(&i.plugins),
	)
	if i.refs != nil {
		i.lastRefs.Store(i.refs)
	}
	if err := app.Err(); err != nil {
		return err
	}

	i.adminFilter = admin.NewFilter(i.cfg.Admin.Facets)
	for _, w := range i.cfg.Warnings {
		i.logger.Warning(w)
	}
	return nil
}

// fxLogger Ice.Trace.Setup >= 1 时输出 Fx 事件
func fxLogger(props *properties.Properties) fxevent.Logger {
	if props.GetAsInt("Ice.Trace.Setup") >= 1 {
		if zl, err := zap.NewDevelopment(); err == nil {
			return &fxevent.ZapLogger{Logger: zl}
		}
	}
	return &fxevent.ZapLogger{Logger: zap.NewNop()}
}

// ============================================================================
//                              Providers
// ============================================================================

// baseLogger 未经 LoggerAdmin 包装的 Logger
type baseLogger struct {
	interfaces.Logger
}

// acmMonitors 客户端与服务端的空闲连接管理
type acmMonitors struct {
	client *connmgr.Monitor
	server *connmgr.Monitor
}

func provideTraceLevels(props *properties.Properties, _ *config.Config) *tracelevels.TraceLevels {
	return tracelevels.FromProperties(props)
}

func provideBaseLogger(data InitData, cfg *config.Config) (baseLogger, error) {
	if data.Logger != nil {
		return baseLogger{data.Logger}, nil
	}
	if cfg.LogFile != "" {
		l, err := utillog.NewFileLogger(cfg.LogFile, cfg.ProgramName)
		if err != nil {
			return baseLogger{}, err
		}
		return baseLogger{l}, nil
	}
	if f, ok := data.Stderr.(*os.File); data.Stderr != nil && (!ok || f != os.Stderr) {
		inner := slog.New(utillog.NewHandler(data.Stderr, "commrt"))
		return baseLogger{utillog.NewSlogLogger(cfg.ProgramName, inner)}, nil
	}
	return baseLogger{utillog.NewSlogLogger(cfg.ProgramName, utillog.Logger("commrt"))}, nil
}

func provideSSLEngine(props *properties.Properties, _ *config.Config) (*ssl.Engine, error) {
	return ssl.NewEngine(ssl.ConfigFromProperties(props))
}

func provideEndpoints(cfg *config.Config, engine *ssl.Engine) *endpoint.FactoryManager {
	return endpoint.NewFactoryManager(endpoint.DefaultsFromConfig(cfg.Defaults), engine)
}

func provideReferences(cfg *config.Config, eps *endpoint.FactoryManager) *reference.Factory {
	return reference.NewFactory(eps, cfg.ToStringMode, cfg.Defaults)
}

func provideImplicitContext(cfg *config.Config) (implicitctx.ImplicitContext, error) {
	return implicitctx.Create(cfg.ImplicitContext)
}

func providePolicy(cfg *config.Config) retry.Policy {
	return retry.PolicyFromStrings(cfg.RetryIntervals)
}

// provideMetrics 用户未提供观察者且 Metrics facet 可用时创建 Prometheus 观察者
func provideMetrics(data InitData, props *properties.Properties, cfg *config.Config) *metrics.Observer {
	if data.Observer != nil || !cfg.Admin.FacetAllowed(admin.MetricsFacet) {
		return nil
	}
	if !cfg.Admin.Enabled && len(props.GetForPrefix(metrics.PropertyPrefix)) == 0 {
		return nil
	}
	return metrics.New(props)
}

func provideObserver(data InitData, m *metrics.Observer) interfaces.CommunicatorObserver {
	if data.Observer != nil {
		return data.Observer
	}
	if m != nil {
		return m
	}
	return nil
}

func provideLoggerAdmin(i *Instance, cfg *config.Config, base baseLogger) *admin.LoggerAdmin {
	if !cfg.Admin.Enabled || !cfg.Admin.FacetAllowed(admin.LoggerFacet) {
		return nil
	}
	return admin.NewLoggerAdmin(base.Logger, cfg.LoggerAdmin, i, i)
}

func provideLogger(base baseLogger, la *admin.LoggerAdmin) interfaces.Logger {
	if la != nil {
		return la.Logger()
	}
	return base.Logger
}

func provideTimer(l interfaces.Logger) *timer.Timer {
	return timer.New(timer.WithPanicHandler(func(v any) {
		l.Error(fmt.Sprintf("exception in timer task:\n%v", v))
	}))
}

func provideResolver(cfg *config.Config, l interfaces.Logger, traces *tracelevels.TraceLevels) *resolver.Resolver {
	return resolver.New(cfg.Network,
		resolver.WithLogger(l),
		resolver.WithTraceLevel(traces.Network))
}

func provideMonitors(cfg *config.Config, t *timer.Timer) acmMonitors {
	return acmMonitors{
		client: connmgr.NewMonitor("Ice.ACM.Client", t, cfg.ACMClient.Timeout.Duration()),
		server: connmgr.NewMonitor("Ice.ACM.Server", t, cfg.ACMServer.Timeout.Duration()),
	}
}

func locatorConfig(i *Instance, l interfaces.Logger, traces *tracelevels.TraceLevels) locator.Config {
	return locator.Config{
		Invoker:    i,
		Parser:     i,
		Logger:     l,
		TraceLevel: traces.Location,
	}
}

func provideLocators(i *Instance, l interfaces.Logger, traces *tracelevels.TraceLevels) *locator.Manager {
	return locator.NewManager(locatorConfig(i, l, traces))
}

func provideRouters(i *Instance, l interfaces.Logger, traces *tracelevels.TraceLevels) *locator.RouterManager {
	return locator.NewRouterManager(locatorConfig(i, l, traces))
}

func connectionConfig(cfg *config.Config, obsv interfaces.CommunicatorObserver, l interfaces.Logger, traces *tracelevels.TraceLevels) connection.Config {
	return connection.Config{
		MessageSizeMax: cfg.Message.MessageSizeMax,
		Observer:       obsv,
		Logger:         l,
		Traces:         traces,
	}
}

func provideOutgoing(cfg *config.Config, obsv interfaces.CommunicatorObserver, l interfaces.Logger,
	traces *tracelevels.TraceLevels, r *resolver.Resolver, mons acmMonitors) *connection.OutgoingFactory {
	return connection.NewOutgoingFactory(connectionConfig(cfg, obsv, l, traces), r, mons.client)
}

func provideAdapters(i *Instance, cfg *config.Config, eps *endpoint.FactoryManager, locs *locator.Manager,
	routers *locator.RouterManager, mons acmMonitors, obsv interfaces.CommunicatorObserver,
	l interfaces.Logger, traces *tracelevels.TraceLevels) *adapter.Factory {
	return adapter.NewFactory(&adapter.Runtime{
		Properties: i.props,
		Endpoints:  eps,
		References: i.currentReferences,
		Locators:   locs,
		Routers:    routers,
		ServerPool: i.ServerThreadPool,
		Monitor:    mons.server,
		Conn:       connectionConfig(cfg, obsv, l, traces),
		Observer:   obsv,
		Logger:     l,
		Traces:     traces,
	})
}

// dispatchFunc 把重试交给客户端线程池
type dispatchFunc func(fn func()) error

func (f dispatchFunc) Dispatch(fn func()) error { return f(fn) }

func provideRetryQueue(i *Instance, t *timer.Timer, l interfaces.Logger, traces *tracelevels.TraceLevels) *retry.Queue {
	exec := dispatchFunc(func(fn func()) error {
		p, err := i.ClientThreadPool()
		if err != nil {
			return err
		}
		return p.Dispatch(fn)
	})
	return retry.NewQueue(t, exec, retry.WithLogger(l, traces.Retry))
}

func provideInvoker(i *Instance, policy retry.Policy, ictx implicitctx.ImplicitContext,
	obsv interfaces.CommunicatorObserver, l interfaces.Logger, traces *tracelevels.TraceLevels) *invocation.Invoker {
	return invocation.New(invocation.Runtime{
		References:      i.currentReferences,
		Connections:     i.OutgoingConnectionFactory,
		Adapters:        i.ObjectAdapterFactory,
		Locators:        i.LocatorManager,
		Routers:         i.RouterManager,
		RetryQueue:      i.RetryQueue,
		Policy:          policy,
		ImplicitContext: ictx,
		Observer:        obsv,
		Logger:          l,
		Traces:          traces,
	})
}

// pluginHost 插件看到的通信器视图
type pluginHost struct {
	i *Instance
}

func (h pluginHost) Properties() interfaces.PropertiesReader { return h.i.props }
func (h pluginHost) Logger() interfaces.Logger               { return h.i.logger }

func providePlugins(i *Instance, _ interfaces.Logger) *plugin.Manager {
	return plugin.NewManager(pluginHost{i})
}

// setupSummary 返回 Ice.Trace.Setup 输出的组件摘要
func (i *Instance) setupSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "communicator %s\n", i.id)
	fmt.Fprintf(&b, "  endpoints: %s\n", strings.Join(i.endpoints.Protocols(), ","))
	fmt.Fprintf(&b, "  retry intervals: %s\n", i.policy.String())
	fmt.Fprintf(&b, "  implicit context: %s\n", i.cfg.ImplicitContext.String())
	fmt.Fprintf(&b, "  metrics: %t, logger admin: %t", i.metrics != nil, i.loggerAdmin != nil)
	return b.String()
}
