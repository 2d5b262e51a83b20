package instance

import (
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-commrt/internal/core/lifecycle"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// 销毁步骤名称
const (
	stepIntrospect       = "introspect-stop"
	stepAdapterShutdown  = "adapter-factory-shutdown"
	stepOutgoingDestroy  = "outgoing-destroy"
	stepAdapterDestroy   = "adapter-factory-destroy"
	stepServerMonitor    = "server-monitor-destroy"
	stepOutgoingWait     = "outgoing-wait"
	stepRetryQueue       = "retry-queue-destroy"
	stepObserverDetach   = "observer-detach"
	stepLoggerAdmin      = "logger-admin-destroy"
	stepServerPool       = "server-pool-destroy"
	stepClientPool       = "client-pool-destroy"
	stepResolver         = "resolver-destroy"
	stepTimer            = "timer-destroy"
	stepJoinThreads      = "join-threads"
	stepRouterManager    = "router-manager-destroy"
	stepLocatorManager   = "locator-manager-destroy"
	stepEndpointFactory  = "endpoint-factory-destroy"
	stepUnusedProperties = "unused-properties"
	stepPluginManager    = "plugin-manager-destroy"
)

// ============================================================================
//                              销毁
// ============================================================================

// Destroy 销毁实例
//
// 并发调用只有一个执行销毁序列，其余调用阻塞到销毁完成后返回。
// 销毁步骤不持有实例锁执行；返回时所有组件句柄已置空，实例已从全局注册表移除。
func (i *Instance) Destroy() {
	if !i.lc.BeginDestroy() {
		return
	}

	start := time.Now()
	seq := i.teardownSequence()
	seq.Run()

	unregister(i)
	i.lc.CompleteDestroy(i.releaseLocked)
	logger.Debug("实例已销毁", "id", i.id, "steps", len(seq.Executed()), "elapsed", time.Since(start))
}

// DestroyAsync 在独立 goroutine 中销毁实例，完成后调用 cb
//
// 已销毁时直接在调用方 goroutine 中调用 cb。
func (i *Instance) DestroyAsync(cb func()) {
	if i.lc.IsDestroyed() {
		if cb != nil {
			cb()
		}
		return
	}
	go func() {
		i.Destroy()
		if cb != nil {
			cb()
		}
	}()
}

// OnTeardownStep 注册销毁步骤回调，每完成一个步骤调用一次
func (i *Instance) OnTeardownStep(fn func(name string)) {
	i.stepMu.Lock()
	i.stepObservers = append(i.stepObservers, fn)
	i.stepMu.Unlock()
}

func (i *Instance) notifyStep(name string, elapsed time.Duration) {
	logger.Debug("销毁步骤完成", "step", name, "elapsed", elapsed)
	i.stepMu.Lock()
	observers := append([]func(string){}, i.stepObservers...)
	i.stepMu.Unlock()
	for _, fn := range observers {
		fn(name)
	}
}

// teardownSequence 在锁内快照组件句柄并构建销毁序列
//
// 状态已是 DestroyInProgress，延迟创建的线程池不会在快照之后出现。
// 缺失的组件（构造中途失败）跳过对应步骤。
func (i *Instance) teardownSequence() *lifecycle.Sequence {
	i.lc.Lock()
	var (
		srv        = i.introspect
		adapters   = i.adapters
		outgoing   = i.outgoing
		mons       = i.monitors
		retryQueue = i.retryQueue
		clientPool = i.clientPool
		serverPool = i.serverPool
		res        = i.resolver
		tm         = i.timer
		routers    = i.routers
		locators   = i.locators
		endpoints  = i.endpoints
		plugins    = i.plugins
	)
	i.lc.Unlock()

	seq := lifecycle.NewSequence("instance")
	seq.OnStep(i.notifyStep)

	if srv != nil {
		seq.Add(stepIntrospect, func() {
			if err := srv.Stop(); err != nil {
				logger.Warn("停止诊断服务失败", "error", err)
			}
		})
	}
	if adapters != nil {
		seq.Add(stepAdapterShutdown, adapters.Shutdown)
	}
	if outgoing != nil {
		seq.Add(stepOutgoingDestroy, outgoing.Destroy)
	} else if mons.client != nil {
		seq.Add(stepOutgoingDestroy, mons.client.Destroy)
	}
	if adapters != nil {
		seq.Add(stepAdapterDestroy, adapters.Destroy)
	}
	if mons.server != nil {
		seq.Add(stepServerMonitor, mons.server.Destroy)
	}
	if outgoing != nil {
		seq.Add(stepOutgoingWait, outgoing.WaitUntilFinished)
	}
	if retryQueue != nil {
		seq.Add(stepRetryQueue, retryQueue.Destroy)
	}
	if i.observer != nil || i.metrics != nil {
		seq.Add(stepObserverDetach, func() {
			if i.observer != nil {
				i.observer.SetObserverUpdater(nil)
			}
			if i.metrics != nil {
				i.metrics.Destroy()
			}
		})
	}
	if i.loggerAdmin != nil {
		seq.Add(stepLoggerAdmin, i.loggerAdmin.Destroy)
	}
	if serverPool != nil {
		seq.Add(stepServerPool, serverPool.Destroy)
	}
	if clientPool != nil {
		seq.Add(stepClientPool, clientPool.Destroy)
	}
	if res != nil {
		seq.Add(stepResolver, res.Destroy)
	}
	if tm != nil {
		seq.Add(stepTimer, tm.Destroy)
	}
	if clientPool != nil || serverPool != nil || res != nil {
		seq.Add(stepJoinThreads, func() {
			var err error
			if clientPool != nil {
				err = multierr.Append(err, clientPool.JoinWithAllThreads())
			}
			if serverPool != nil {
				err = multierr.Append(err, serverPool.JoinWithAllThreads())
			}
			if res != nil {
				res.Join()
			}
			if err != nil {
				logger.Warn("等待线程退出失败", "error", err)
			}
		})
	}
	if routers != nil {
		seq.Add(stepRouterManager, routers.Destroy)
	}
	if locators != nil {
		seq.Add(stepLocatorManager, locators.Destroy)
	}
	if endpoints != nil {
		seq.Add(stepEndpointFactory, endpoints.Destroy)
	}
	if i.cfg != nil && i.cfg.WarnUnusedProperties && i.logger != nil {
		seq.Add(stepUnusedProperties, i.warnUnusedProperties)
	}
	if plugins != nil {
		seq.Add(stepPluginManager, plugins.Destroy)
	}
	return seq
}

func (i *Instance) warnUnusedProperties() {
	unused := i.props.UnusedProperties()
	if len(unused) == 0 {
		return
	}
	i.logger.Warning("The following properties were set but never read:\n  " + strings.Join(unused, "\n  "))
}

// releaseLocked 置空所有组件句柄，调用方持有锁
func (i *Instance) releaseLocked() {
	i.introspect = nil
	i.adapters = nil
	i.outgoing = nil
	i.monitors = acmMonitors{}
	i.retryQueue = nil
	i.clientPool = nil
	i.serverPool = nil
	i.resolver = nil
	i.timer = nil
	i.routers = nil
	i.locators = nil
	i.refs = nil
	i.endpoints = nil
	i.sslEngine = nil
	i.plugins = nil

	i.adminAdapter = nil
	i.adminIdentity = types.Identity{}
	i.adminCreating = false
	i.adminFacets = make(map[string]interfaces.Servant)
	i.adminCond.Broadcast()
}

// ownedHandles 返回仍未置空的组件名称，供测试检查
func (i *Instance) ownedHandles() []string {
	i.lc.Lock()
	defer i.lc.Unlock()
	var live []string
	check := func(name string, present bool) {
		if present {
			live = append(live, name)
		}
	}
	check("introspect", i.introspect != nil)
	check("adapters", i.adapters != nil)
	check("outgoing", i.outgoing != nil)
	check("monitors", i.monitors.client != nil || i.monitors.server != nil)
	check("retryQueue", i.retryQueue != nil)
	check("clientPool", i.clientPool != nil)
	check("serverPool", i.serverPool != nil)
	check("resolver", i.resolver != nil)
	check("timer", i.timer != nil)
	check("routers", i.routers != nil)
	check("locators", i.locators != nil)
	check("refs", i.refs != nil)
	check("endpoints", i.endpoints != nil)
	check("sslEngine", i.sslEngine != nil)
	check("plugins", i.plugins != nil)
	check("adminAdapter", i.adminAdapter != nil)
	return live
}
