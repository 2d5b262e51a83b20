package locator

import (
	"context"
	"sync"

	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
)

// ============================================================================
//                              RouterInfo
// ============================================================================

// RouterInfo 单个路由器的端点缓存
type RouterInfo struct {
	router *reference.Reference
	cfg    Config

	mu              sync.Mutex
	clientEndpoints []endpoint.Endpoint
	serverEndpoints []endpoint.Endpoint
}

// Router 路由器代理
func (r *RouterInfo) Router() *reference.Reference { return r.router }

// ClientEndpoints 客户端经由路由器发出请求时使用的端点
//
// 路由器未给出客户端代理时使用路由器自身的端点。
func (r *RouterInfo) ClientEndpoints(ctx context.Context) ([]endpoint.Endpoint, error) {
	r.mu.Lock()
	if r.clientEndpoints != nil {
		eps := r.clientEndpoints
		r.mu.Unlock()
		return eps, nil
	}
	r.mu.Unlock()

	prx, err := callForProxy(ctx, r.cfg.Invoker, r.cfg.Parser, r.router, OpGetClientProxy, nil)
	if err != nil {
		return nil, err
	}
	eps := r.router.Endpoints()
	if prx != nil && len(prx.Endpoints()) > 0 {
		eps = prx.Endpoints()
	}
	tracelevels.Trace(r.cfg.Logger, r.cfg.TraceLevel, 1, tracelevels.NetworkCat,
		"router client endpoints: "+endpoint.ListToString(eps))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clientEndpoints == nil {
		r.clientEndpoints = eps
	}
	return r.clientEndpoints, nil
}

// ServerEndpoints 经由路由器接收回调时对外公布的端点
func (r *RouterInfo) ServerEndpoints(ctx context.Context) ([]endpoint.Endpoint, error) {
	r.mu.Lock()
	if r.serverEndpoints != nil {
		eps := r.serverEndpoints
		r.mu.Unlock()
		return eps, nil
	}
	r.mu.Unlock()

	prx, err := callForProxy(ctx, r.cfg.Invoker, r.cfg.Parser, r.router, OpGetServerProxy, nil)
	if err != nil {
		return nil, err
	}
	var eps []endpoint.Endpoint
	if prx != nil {
		eps = prx.Endpoints()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverEndpoints = eps
	return eps, nil
}

// ClearCache 清除缓存的端点
func (r *RouterInfo) ClearCache() {
	r.mu.Lock()
	r.clientEndpoints = nil
	r.serverEndpoints = nil
	r.mu.Unlock()
}

// ============================================================================
//                              RouterManager
// ============================================================================

// RouterManager 按路由器代理缓存 RouterInfo
type RouterManager struct {
	cfg Config

	mu        sync.Mutex
	infos     map[string]*RouterInfo
	destroyed bool
}

// NewRouterManager 创建路由器管理器
func NewRouterManager(cfg Config) *RouterManager {
	return &RouterManager{cfg: cfg, infos: make(map[string]*RouterInfo)}
}

// Get 返回路由器对应的 RouterInfo，router 为 nil 或已销毁时返回 nil
func (m *RouterManager) Get(router *reference.Reference) *RouterInfo {
	if router == nil {
		return nil
	}
	// 路由器代理本身不经路由器发出
	router = router.WithRouter(nil)
	key := locatorKey(router)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil
	}
	if info, ok := m.infos[key]; ok {
		return info
	}
	info := &RouterInfo{router: router, cfg: m.cfg}
	m.infos[key] = info
	return info
}

// Erase 移除路由器，返回被移除的 RouterInfo
func (m *RouterManager) Erase(router *reference.Reference) *RouterInfo {
	if router == nil {
		return nil
	}
	key := locatorKey(router.WithRouter(nil))
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.infos[key]
	delete(m.infos, key)
	return info
}

// Destroy 清空所有路由器
func (m *RouterManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		info.ClearCache()
	}
	m.infos = make(map[string]*RouterInfo)
	m.destroyed = true
}
