package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/protocol"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/adapter")

// State 适配器状态
type State int

const (
	// StateUninitialized 尚未完成创建
	StateUninitialized State = iota
	// StateHeld 暂停分派
	StateHeld
	// StateActive 正常分派
	StateActive
	// StateDeactivated 已停用，不再接收请求
	StateDeactivated
	// StateDestroyed 已销毁
	StateDestroyed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHeld:
		return "held"
	case StateActive:
		return "active"
	case StateDeactivated:
		return "deactivated"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ============================================================================
//                              ObjectAdapter 实现
// ============================================================================

// ObjectAdapter 对象适配器
type ObjectAdapter struct {
	name      string
	adapterID string
	rt        *Runtime
	factory   *Factory

	servants  *servantMap
	incoming  []*IncomingFactory
	published []endpoint.Endpoint
	router    *locator.RouterInfo

	mu          sync.Mutex
	cond        *sync.Cond
	state       State
	dispatching int
	locatorRef  *reference.Reference
	registered  bool
	// teardown Deactivate 已关闭全部入站工厂
	teardown bool
}

func newObjectAdapter(f *Factory, name string, fromConfig bool, opts CreateOptions) (*ObjectAdapter, error) {
	rt := f.rt
	a := &ObjectAdapter{
		name:     name,
		rt:       rt,
		factory:  f,
		servants: newServantMap(),
		state:    StateUninitialized,
	}
	a.cond = sync.NewCond(&a.mu)
	var props interfaces.PropertiesReader = emptyProperties{}
	if fromConfig {
		props = rt.Properties
	}
	a.adapterID = props.Get(name + ".AdapterId")

	refs := rt.References()
	a.locatorRef = refs.DefaultLocator()
	if s := props.Get(name + ".Locator"); s != "" {
		l, err := refs.Parse(s)
		if err != nil {
			return nil, err
		}
		a.locatorRef = l
	}

	router := opts.Router
	if router == nil && props.Get(name+".Router") != "" {
		r, err := refs.Parse(props.Get(name + ".Router"))
		if err != nil {
			return nil, err
		}
		router = r
	}

	if router != nil {
		a.router = rt.Routers.Get(router)
		if a.router == nil {
			return nil, types.ErrCommunicatorDestroyed
		}
		eps, err := a.router.ServerEndpoints(context.Background())
		if err != nil {
			return nil, fmt.Errorf("get router server endpoints: %w", err)
		}
		a.published = eps
		a.state = StateHeld
		return a, nil
	}

	endpoints := opts.Endpoints
	if endpoints == "" {
		endpoints = props.Get(name + ".Endpoints")
	}
	eps, err := rt.Endpoints.ParseList(endpoints)
	if err != nil {
		return nil, err
	}
	if len(eps) > 0 {
		pool, err := rt.ServerPool()
		if err != nil {
			return nil, err
		}
		ccfg := rt.Conn
		ccfg.Pool = pool
		ccfg.Dispatcher = a
		for _, ep := range eps {
			inc, err := newIncomingFactory(ep, ccfg, rt.Monitor)
			if err != nil {
				a.destroyIncoming()
				return nil, fmt.Errorf("%w: listen on `%s': %v", types.ErrInitialization, ep, err)
			}
			a.incoming = append(a.incoming, inc)
		}
	}

	if s := props.Get(name + ".PublishedEndpoints"); s != "" {
		pub, err := rt.Endpoints.ParseList(s)
		if err != nil {
			a.destroyIncoming()
			return nil, err
		}
		a.published = pub
	} else {
		for _, inc := range a.incoming {
			a.published = append(a.published, publishable(inc.Endpoint()))
		}
	}

	a.state = StateHeld
	logger.Debug("对象适配器已创建", "name", name, "endpoints", endpoint.ListToString(a.published))
	return a, nil
}

// emptyProperties 匿名适配器不读取任何配置
type emptyProperties struct{}

func (emptyProperties) Get(string) string                                    { return "" }
func (emptyProperties) GetWithDefault(_, def string) string                  { return def }
func (emptyProperties) GetAsInt(string) int                                  { return 0 }
func (emptyProperties) GetAsIntWithDefault(_ string, def int) int            { return def }
func (emptyProperties) GetAsList(string) []string                            { return nil }
func (emptyProperties) GetAsListWithDefault(_ string, def []string) []string { return def }
func (emptyProperties) GetForPrefix(string) map[string]string                { return nil }

// publishable 把通配地址替换为回环地址
func publishable(ep endpoint.Endpoint) endpoint.Endpoint {
	switch ep.Host() {
	case "", "*", "0.0.0.0":
		return ep.WithHost("127.0.0.1")
	case "::":
		return ep.WithHost("::1")
	}
	if ip := net.ParseIP(ep.Host()); ip != nil && ip.IsUnspecified() {
		return ep.WithHost("127.0.0.1")
	}
	return ep
}

// Name 适配器名称
func (a *ObjectAdapter) Name() string { return a.name }

// AdapterID 适配器在定位器中的 ID
func (a *ObjectAdapter) AdapterID() string { return a.adapterID }

// State 当前状态
func (a *ObjectAdapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ============================================================================
//                              状态迁移
// ============================================================================

// Activate 开始接收并分派请求
//
// 第一次激活时把直连代理登记到定位器注册表。
func (a *ObjectAdapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateActive:
		a.mu.Unlock()
		return nil
	case StateDeactivated, StateDestroyed:
		a.mu.Unlock()
		return types.ErrObjectAdapterDeactivated
	}
	register := !a.registered && a.adapterID != ""
	a.mu.Unlock()

	if register {
		if err := a.updateLocatorRegistry(ctx, a.adapterID, true); err != nil {
			return err
		}
	}

	a.mu.Lock()
	if a.state >= StateDeactivated {
		a.mu.Unlock()
		return types.ErrObjectAdapterDeactivated
	}
	a.registered = a.registered || register
	a.state = StateActive
	a.cond.Broadcast()
	a.mu.Unlock()

	for _, inc := range a.incoming {
		inc.Activate()
	}
	return nil
}

// Hold 暂停分派，新请求等待再次激活
func (a *ObjectAdapter) Hold() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state >= StateDeactivated {
		return types.ErrObjectAdapterDeactivated
	}
	a.state = StateHeld
	for _, inc := range a.incoming {
		inc.Activate()
	}
	return nil
}

// WaitForHold 等待进行中的分派结束
func (a *ObjectAdapter) WaitForHold() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.state == StateHeld && a.dispatching > 0 {
		a.cond.Wait()
	}
	if a.state >= StateDeactivated {
		return types.ErrObjectAdapterDeactivated
	}
	return nil
}

// Deactivate 停止接收新请求，优雅关闭连接并注销定位器登记
func (a *ObjectAdapter) Deactivate() {
	a.mu.Lock()
	if a.state >= StateDeactivated {
		a.mu.Unlock()
		return
	}
	a.state = StateDeactivated
	registered := a.registered
	a.registered = false
	a.cond.Broadcast()
	a.mu.Unlock()

	if registered {
		if err := a.updateLocatorRegistry(context.Background(), a.adapterID, false); err != nil {
			logger.Debug("注销定位器登记失败", "adapter", a.name, "error", err)
		}
	}
	for _, inc := range a.incoming {
		inc.Destroy()
	}

	a.mu.Lock()
	a.teardown = true
	a.cond.Broadcast()
	a.mu.Unlock()
	logger.Debug("对象适配器已停用", "name", a.name)
}

// WaitForDeactivate 等待停用完成：连接关闭且分派结束
//
// 尚未停用时阻塞到 Deactivate 关闭全部入站工厂为止。
func (a *ObjectAdapter) WaitForDeactivate() error {
	a.mu.Lock()
	for !a.teardown {
		a.cond.Wait()
	}
	a.mu.Unlock()

	for _, inc := range a.incoming {
		inc.WaitUntilFinished()
	}

	a.mu.Lock()
	for a.dispatching > 0 {
		a.cond.Wait()
	}
	a.mu.Unlock()
	return nil
}

// IsDeactivated 是否已停用
func (a *ObjectAdapter) IsDeactivated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state >= StateDeactivated
}

// Destroy 停用、等待并清空 servant，随后从工厂中移除
func (a *ObjectAdapter) Destroy() {
	a.Deactivate()
	_ = a.WaitForDeactivate()

	a.mu.Lock()
	if a.state == StateDestroyed {
		a.mu.Unlock()
		return
	}
	a.state = StateDestroyed
	a.cond.Broadcast()
	a.mu.Unlock()

	a.servants.destroy()
	if a.factory != nil {
		a.factory.remove(a)
	}
	logger.Debug("对象适配器已销毁", "name", a.name)
}

func (a *ObjectAdapter) destroyIncoming() {
	for _, inc := range a.incoming {
		inc.Destroy()
		inc.WaitUntilFinished()
	}
	a.incoming = nil
}

func (a *ObjectAdapter) checkActive() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state >= StateDeactivated {
		return types.ErrObjectAdapterDeactivated
	}
	return nil
}

// ============================================================================
//                              Servant 管理
// ============================================================================

// Add 登记身份的默认 facet
func (a *ObjectAdapter) Add(s interfaces.Servant, id types.Identity) error {
	return a.AddFacet(s, id, "")
}

// AddFacet 登记身份的指定 facet
func (a *ObjectAdapter) AddFacet(s interfaces.Servant, id types.Identity, facet string) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	return a.servants.add(id, facet, s)
}

// AddWithUUID 以随机身份登记 servant，返回身份
func (a *ObjectAdapter) AddWithUUID(s interfaces.Servant) (types.Identity, error) {
	id := types.Identity{Name: uuid.NewString()}
	return id, a.Add(s, id)
}

// AddDefaultServant 登记类别的默认 servant，空类别匹配所有身份
func (a *ObjectAdapter) AddDefaultServant(s interfaces.Servant, category string) error {
	if err := a.checkActive(); err != nil {
		return err
	}
	return a.servants.addDefault(category, s)
}

// Remove 移除身份的默认 facet
func (a *ObjectAdapter) Remove(id types.Identity) (interfaces.Servant, error) {
	return a.RemoveFacet(id, "")
}

// RemoveFacet 移除身份的指定 facet
func (a *ObjectAdapter) RemoveFacet(id types.Identity, facet string) (interfaces.Servant, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.remove(id, facet)
}

// RemoveAllFacets 移除身份的所有 facet
func (a *ObjectAdapter) RemoveAllFacets(id types.Identity) (map[string]interfaces.Servant, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.removeAll(id)
}

// RemoveDefaultServant 移除类别的默认 servant
func (a *ObjectAdapter) RemoveDefaultServant(category string) (interfaces.Servant, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.servants.removeDefault(category)
}

// Find 查找身份的默认 facet
func (a *ObjectAdapter) Find(id types.Identity) interfaces.Servant {
	return a.servants.find(id, "")
}

// FindFacet 查找身份的指定 facet
func (a *ObjectAdapter) FindFacet(id types.Identity, facet string) interfaces.Servant {
	return a.servants.find(id, facet)
}

// FindAllFacets 返回身份的所有 facet
func (a *ObjectAdapter) FindAllFacets(id types.Identity) map[string]interfaces.Servant {
	return a.servants.findAll(id)
}

// FindDefaultServant 返回类别的默认 servant
func (a *ObjectAdapter) FindDefaultServant(category string) interfaces.Servant {
	return a.servants.findDefault(category)
}

// ============================================================================
//                              代理与端点
// ============================================================================

// CreateProxy 创建指向本适配器中 id 的代理
//
// 配置了 AdapterId 时为间接代理，否则为直连代理。
func (a *ObjectAdapter) CreateProxy(id types.Identity) (*reference.Reference, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if a.adapterID != "" {
		return a.CreateIndirectProxy(id)
	}
	return a.CreateDirectProxy(id)
}

// CreateDirectProxy 创建使用公布端点的直连代理
func (a *ObjectAdapter) CreateDirectProxy(id types.Identity) (*reference.Reference, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	return a.rt.References().Create(id, "", a.PublishedEndpoints(), ""), nil
}

// CreateIndirectProxy 创建经定位器解析的间接代理
func (a *ObjectAdapter) CreateIndirectProxy(id types.Identity) (*reference.Reference, error) {
	if err := a.checkActive(); err != nil {
		return nil, err
	}
	ref := a.rt.References().Create(id, "", nil, a.adapterID)
	return ref.WithLocator(a.Locator()), nil
}

// Endpoints 实际监听的端点
func (a *ObjectAdapter) Endpoints() []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(a.incoming))
	for _, inc := range a.incoming {
		out = append(out, inc.Endpoint())
	}
	return out
}

// PublishedEndpoints 写入代理的端点
func (a *ObjectAdapter) PublishedEndpoints() []endpoint.Endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]endpoint.Endpoint(nil), a.published...)
}

// SetPublishedEndpoints 替换公布端点
func (a *ObjectAdapter) SetPublishedEndpoints(eps []endpoint.Endpoint) error {
	if a.router != nil {
		return errors.New("cannot set published endpoints on a router adapter")
	}
	a.mu.Lock()
	a.published = append([]endpoint.Endpoint(nil), eps...)
	a.mu.Unlock()
	return nil
}

// Locator 适配器使用的定位器
func (a *ObjectAdapter) Locator() *reference.Reference {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locatorRef
}

// SetLocator 替换定位器
func (a *ObjectAdapter) SetLocator(l *reference.Reference) {
	a.mu.Lock()
	a.locatorRef = l
	a.mu.Unlock()
}

// IsLocal 判断 ref 是否指向本适配器
func (a *ObjectAdapter) IsLocal(ref *reference.Reference) bool {
	if a.IsDeactivated() {
		return false
	}
	if ref.IsIndirect() {
		return ref.AdapterID() != "" && ref.AdapterID() == a.adapterID
	}
	published := a.PublishedEndpoints()
	for _, ep := range ref.Endpoints() {
		for _, p := range published {
			if sameAddress(ep, p) {
				return true
			}
		}
	}
	return false
}

func sameAddress(a, b endpoint.Endpoint) bool {
	return a.Protocol() == b.Protocol() && a.Host() == b.Host() && a.Port() == b.Port() && a.Resource() == b.Resource()
}

func (a *ObjectAdapter) updateLocatorRegistry(ctx context.Context, adapterID string, register bool) error {
	info := a.rt.Locators.Get(a.Locator())
	if info == nil {
		return nil
	}
	proxy := ""
	if register {
		ref := a.rt.References().Create(types.Identity{Name: "dummy"}, "", a.PublishedEndpoints(), "")
		proxy = a.rt.References().String(ref)
	}
	err := info.SetAdapterDirectProxy(ctx, adapterID, proxy)
	switch {
	case err == nil:
		if register {
			a.rt.trace(fmt.Sprintf("registered adapter `%s' endpoints with the locator registry\nendpoints = %s",
				adapterID, endpoint.ListToString(a.PublishedEndpoints())))
		} else {
			a.rt.trace(fmt.Sprintf("unregistered adapter `%s' endpoints from the locator registry", adapterID))
		}
		return nil
	case errors.Is(err, locator.ErrNoRegistry):
		return nil
	case errors.Is(err, locator.ErrAdapterNotFound):
		return fmt.Errorf("%w: adapter `%s' is not known to the locator registry: %w", types.ErrNotRegistered, adapterID, err)
	default:
		a.rt.trace(fmt.Sprintf("couldn't update object adapter `%s' endpoints with the locator registry: %v", adapterID, err))
		return err
	}
}

// ============================================================================
//                              分派
// ============================================================================

// Dispatch 实现 connection.Dispatcher
func (a *ObjectAdapter) Dispatch(ctx context.Context, c *connection.Connection, req *protocol.Request) *protocol.Reply {
	current := &interfaces.Current{
		Adapter:      a.name,
		ConnectionID: c.ID(),
		Identity:     req.Identity,
		Facet:        req.Facet,
		Operation:    req.Operation,
		Mode:         req.Mode,
		Context:      req.Context,
		RequestID:    req.RequestID,
	}
	return protocol.NewReply(a.DispatchCurrent(ctx, current, req.Params))
}

// DispatchCurrent 在本适配器内分派一次调用，用于网络请求与本地并置调用
//
// Held 状态下等待激活；停用后返回 ErrObjectNotExist。
func (a *ObjectAdapter) DispatchCurrent(ctx context.Context, current *interfaces.Current, params []byte) ([]byte, error) {
	a.mu.Lock()
	for a.state == StateHeld || a.state == StateUninitialized {
		a.cond.Wait()
	}
	if a.state >= StateDeactivated {
		a.mu.Unlock()
		return nil, types.ErrObjectNotExist
	}
	a.dispatching++
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.dispatching--
		a.cond.Broadcast()
		a.mu.Unlock()
	}()

	var obs interfaces.DispatchObserver
	if o := a.rt.Observer; o != nil {
		if obs = o.DispatchObserver(a.name, current.Operation); obs != nil {
			obs.Attach()
			defer obs.Detach()
		}
	}

	s, err := a.servants.lookup(current.Identity, current.Facet)
	if err != nil {
		if obs != nil {
			obs.Failed(err)
		}
		return nil, err
	}
	if current.Operation == interfaces.PingOperation {
		return nil, nil
	}
	out, err := s.Dispatch(ctx, current, params)
	if err != nil && obs != nil {
		var ue *types.UserError
		if errors.As(err, &ue) {
			obs.UserException()
		} else {
			obs.Failed(err)
		}
	}
	return out, err
}

// UpdateObservers 刷新所有入站连接的观察者
func (a *ObjectAdapter) UpdateObservers() {
	for _, inc := range a.incoming {
		inc.UpdateObservers()
	}
}

// Connections 返回所有入站连接
func (a *ObjectAdapter) Connections() []*connection.Connection {
	var out []*connection.Connection
	for _, inc := range a.incoming {
		out = append(out, inc.Connections()...)
	}
	return out
}
