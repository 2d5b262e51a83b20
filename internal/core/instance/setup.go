package instance

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-commrt/internal/core/admin"
	"github.com/dep2p/go-commrt/internal/core/introspect"
	"github.com/dep2p/go-commrt/internal/core/metrics"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
)

// ============================================================================
//                              第二阶段构造
// ============================================================================

// FinishSetup 完成第二阶段构造
//
// 依次加载插件、初始化端点工厂、注册内置管理 facet、连接观察者、
// 创建客户端线程池、设置默认路由器与定位器、初始化插件，
// 并在未设置 Ice.Admin.DelayCreation 时创建管理对象。
// 失败时调用方负责 Destroy。
func (i *Instance) FinishSetup(ctx context.Context) error {
	plugins, err := i.PluginManager()
	if err != nil {
		return err
	}
	if err := plugins.LoadPlugins(i.props, i.cfg.PluginLoadOrder); err != nil {
		return err
	}

	eps, err := i.EndpointFactoryManager()
	if err != nil {
		return err
	}
	engine, err := i.SSLEngine()
	if err != nil {
		return err
	}
	eps.Initialize(engine)

	if i.cfg.Admin.Enabled {
		if err := i.addBuiltinFacets(); err != nil {
			return err
		}
	}

	if i.observer != nil {
		i.observer.SetObserverUpdater(i)
	}
	if t, err := i.Timer(); err == nil {
		t.UpdateObserver(i.observer)
	}
	if r, err := i.EndpointHostResolver(); err == nil {
		r.UpdateObserver(i.observer)
	}
	if _, err := i.ClientThreadPool(); err != nil {
		return err
	}

	if err := i.setupDefaults(); err != nil {
		return err
	}

	if i.cfg.PrintProcessID {
		fmt.Fprintln(i.stdout, os.Getpid())
	}

	if i.cfg.InitPlugins {
		if err := plugins.InitializePlugins(); err != nil {
			return err
		}
	}

	if i.cfg.Admin.Enabled && !i.cfg.Admin.DelayCreation {
		if _, err := i.GetAdmin(ctx); err != nil {
			return err
		}
	}

	if i.cfg.Admin.HTTPEndpoint != "" {
		if err := i.startIntrospect(ctx); err != nil {
			return err
		}
	}

	tracelevels.Trace(i.logger, i.traces.Setup, 1, tracelevels.SetupCat, i.setupSummary())
	logger.Debug("实例初始化完成", "id", i.id)
	return nil
}

// addBuiltinFacets 按 Ice.Admin.Facets 注册 Process、Properties、Logger 与 Metrics
func (i *Instance) addBuiltinFacets() error {
	if i.adminFilter.Allows(admin.ProcessFacet) {
		process := admin.NewProcess(func() {
			if f, err := i.ObjectAdapterFactory(); err == nil {
				f.Shutdown()
			}
		})
		process.SetOutput(i.stdout, i.stderr)
		if err := i.AddAdminFacet(process, admin.ProcessFacet); err != nil {
			return err
		}
	}

	if i.adminFilter.Allows(admin.PropertiesFacet) {
		props := admin.NewProperties(i.props, i.logger, i.traces.AdminProperties)
		if i.metrics != nil {
			props.AddUpdateCallback(i.metrics.PropertiesUpdated)
		}
		if err := i.AddAdminFacet(props, admin.PropertiesFacet); err != nil {
			return err
		}
	}

	if i.loggerAdmin != nil {
		if err := i.AddAdminFacet(i.loggerAdmin, admin.LoggerFacet); err != nil {
			return err
		}
	}

	if i.metrics != nil {
		if err := i.AddAdminFacet(metrics.NewFacet(i.metrics), admin.MetricsFacet); err != nil {
			return err
		}
	}
	return nil
}

// setupDefaults 读取 Ice.Default.Router 与 Ice.Default.Locator
func (i *Instance) setupDefaults() error {
	refs, err := i.ReferenceFactory()
	if err != nil {
		return err
	}
	router, err := refs.PropertyToReference(i.props, "Ice.Default.Router")
	if err != nil {
		return err
	}
	if router != nil {
		if err := i.SetDefaultRouter(router); err != nil {
			return err
		}
	}
	loc, err := refs.PropertyToReference(i.props, "Ice.Default.Locator")
	if err != nil {
		return err
	}
	if loc != nil {
		if err := i.SetDefaultLocator(loc); err != nil {
			return err
		}
	}
	return nil
}

// startIntrospect 启动本地诊断 HTTP 服务
func (i *Instance) startIntrospect(ctx context.Context) error {
	cfg := introspect.Config{
		Addr:   i.cfg.Admin.HTTPEndpoint,
		Source: introspectSource{i},
	}
	if i.metrics != nil {
		var g prometheus.Gatherer = i.metrics.Registry()
		cfg.Gatherer = g
	}
	srv := introspect.New(cfg)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	i.lc.Lock()
	if err := i.lc.CheckActiveLocked(); err != nil {
		i.lc.Unlock()
		_ = srv.Stop()
		return err
	}
	i.introspect = srv
	i.lc.Unlock()
	return nil
}
