package adapter

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/connmgr"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/threadpool"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// Runtime 适配器共享的运行时组件，由实例提供
type Runtime struct {
	Properties interfaces.PropertiesReader
	Endpoints  *endpoint.FactoryManager
	// References 返回当前的 Reference 工厂（默认定位器/路由器可能被替换）
	References func() *reference.Factory
	Locators   *locator.Manager
	Routers    *locator.RouterManager
	// ServerPool 按需创建服务端线程池
	ServerPool func() (*threadpool.ThreadPool, error)
	// Monitor 服务端 ACM
	Monitor *connmgr.Monitor
	// Conn 入站连接配置模板，Pool 与 Dispatcher 由适配器填写
	Conn     connection.Config
	Observer interfaces.CommunicatorObserver
	Logger   interfaces.Logger
	Traces   *tracelevels.TraceLevels
}

func (rt *Runtime) trace(msg string) {
	if rt.Traces != nil {
		tracelevels.Trace(rt.Logger, rt.Traces.Location, 1, tracelevels.LocationCat, msg)
	}
}

// CreateOptions 创建适配器的可选参数
type CreateOptions struct {
	// Endpoints 覆盖 <name>.Endpoints
	Endpoints string
	// Router 经由该路由器接收请求
	Router *reference.Reference
}

// ============================================================================
//                              Factory 实现
// ============================================================================

// Factory 对象适配器工厂
type Factory struct {
	rt *Runtime

	mu        sync.Mutex
	cond      *sync.Cond
	adapters  map[string]*ObjectAdapter
	order     []*ObjectAdapter
	shutdown  bool
	destroyed bool
}

// NewFactory 创建适配器工厂
func NewFactory(rt *Runtime) *Factory {
	f := &Factory{rt: rt, adapters: make(map[string]*ObjectAdapter)}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Create 创建对象适配器，name 为空时使用随机名称且不读取 <name>.* 配置
func (f *Factory) Create(name string, opts CreateOptions) (*ObjectAdapter, error) {
	fromConfig := name != ""

	f.mu.Lock()
	if err := f.checkLocked(); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if name == "" {
		name = uuid.NewString()
	}
	if _, ok := f.adapters[name]; ok {
		f.mu.Unlock()
		return nil, types.AlreadyRegistered("object adapter", name)
	}
	// 先占位，创建过程中不持有锁
	f.adapters[name] = nil
	f.mu.Unlock()

	a, err := newObjectAdapter(f, name, fromConfig, opts)

	f.mu.Lock()
	if err == nil {
		err = f.checkLocked()
		if err != nil {
			delete(f.adapters, name)
			f.mu.Unlock()
			a.factory = nil
			a.Destroy()
			return nil, err
		}
		f.adapters[name] = a
		f.order = append(f.order, a)
		f.mu.Unlock()
		return a, nil
	}
	delete(f.adapters, name)
	f.cond.Broadcast()
	f.mu.Unlock()
	return nil, err
}

func (f *Factory) checkLocked() error {
	if f.destroyed {
		return types.ErrCommunicatorDestroyed
	}
	if f.shutdown {
		return types.ErrObjectAdapterDeactivated
	}
	return nil
}

// Find 按名称查找适配器
func (f *Factory) Find(name string) *ObjectAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[name]
}

// Adapters 返回所有已创建的适配器
func (f *Factory) Adapters() []*ObjectAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ObjectAdapter(nil), f.order...)
}

// FindByReference 返回 ref 指向的本地适配器，用于并置调用
func (f *Factory) FindByReference(ref *reference.Reference) *ObjectAdapter {
	for _, a := range f.Adapters() {
		if a.IsLocal(ref) {
			return a
		}
	}
	return nil
}

func (f *Factory) remove(a *ObjectAdapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adapters[a.name] == a {
		delete(f.adapters, a.name)
	}
	for i, x := range f.order {
		if x == a {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.cond.Broadcast()
}

// Shutdown 停用所有适配器，之后不能再创建适配器
func (f *Factory) Shutdown() {
	f.mu.Lock()
	if f.shutdown || f.destroyed {
		f.mu.Unlock()
		return
	}
	f.shutdown = true
	adapters := append([]*ObjectAdapter(nil), f.order...)
	f.cond.Broadcast()
	f.mu.Unlock()

	var g errgroup.Group
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			a.Deactivate()
			return nil
		})
	}
	_ = g.Wait()
	logger.Debug("适配器工厂已关闭", "adapters", len(adapters))
}

// IsShutdown 是否已关闭
func (f *Factory) IsShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown || f.destroyed
}

// WaitForShutdown 等待 Shutdown 被调用且所有适配器停用完成
func (f *Factory) WaitForShutdown(ctx context.Context) error {
	f.mu.Lock()
	if !f.shutdown && !f.destroyed {
		stop := context.AfterFunc(ctx, func() {
			f.mu.Lock()
			f.cond.Broadcast()
			f.mu.Unlock()
		})
		for !f.shutdown && !f.destroyed && ctx.Err() == nil {
			f.cond.Wait()
		}
		stop()
	}
	adapters := append([]*ObjectAdapter(nil), f.order...)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	g, _ := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(a.WaitForDeactivate)
	}
	return g.Wait()
}

// Destroy 关闭并销毁所有适配器
func (f *Factory) Destroy() {
	f.Shutdown()

	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return
	}
	f.destroyed = true
	adapters := append([]*ObjectAdapter(nil), f.order...)
	f.cond.Broadcast()
	f.mu.Unlock()

	var g errgroup.Group
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			a.Destroy()
			return nil
		})
	}
	_ = g.Wait()

	f.mu.Lock()
	f.adapters = make(map[string]*ObjectAdapter)
	f.order = nil
	f.mu.Unlock()
}

// UpdateObservers 刷新所有入站连接的观察者
func (f *Factory) UpdateObservers() {
	for _, a := range f.Adapters() {
		a.UpdateObservers()
	}
}
