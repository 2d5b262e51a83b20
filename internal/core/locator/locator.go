package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/locator")

const cacheSize = 1024

// Config 定位器配置
type Config struct {
	Invoker    Invoker
	Parser     Parser
	Logger     interfaces.Logger
	TraceLevel int
	Clock      clock.Clock
}

type cacheEntry struct {
	endpoints []endpoint.Endpoint
	proxy     *reference.Reference
	at        time.Time
}

// ============================================================================
//                              LocatorInfo
// ============================================================================

// Info 单个定位器的解析状态与缓存
type Info struct {
	locator *reference.Reference
	cfg     Config

	adapters *expirable.LRU[string, cacheEntry]
	objects  *expirable.LRU[types.Identity, cacheEntry]
	group    singleflight.Group

	mu       sync.Mutex
	registry *reference.Reference
}

func newInfo(locator *reference.Reference, cfg Config) *Info {
	return &Info{
		locator:  locator,
		cfg:      cfg,
		adapters: expirable.NewLRU[string, cacheEntry](cacheSize, nil, 0),
		objects:  expirable.NewLRU[types.Identity, cacheEntry](cacheSize, nil, 0),
	}
}

// Locator 定位器代理
func (i *Info) Locator() *reference.Reference { return i.locator }

// Endpoints 解析间接代理的端点
//
// cached 表示结果来自缓存；调用方在缓存端点连接失败时
// 应调用 ClearCache 后重试一次。
func (i *Info) Endpoints(ctx context.Context, ref *reference.Reference) (eps []endpoint.Endpoint, cached bool, err error) {
	if !ref.IsIndirect() {
		return ref.Endpoints(), false, nil
	}
	if ref.AdapterID() != "" {
		return i.adapterEndpoints(ctx, ref, ref.AdapterID())
	}

	ttl := ref.LocatorCacheTimeout()
	if e, ok := i.objects.Get(ref.Identity()); ok && i.fresh(e, ttl) {
		if !e.proxy.IsIndirect() {
			return e.proxy.Endpoints(), true, nil
		}
		if e.proxy.AdapterID() != "" {
			eps, _, err := i.adapterEndpoints(ctx, ref, e.proxy.AdapterID())
			return eps, true, err
		}
	}

	key := "object:" + ref.Identity().String()
	v, err, _ := i.group.Do(key, func() (any, error) {
		prx, err := callForProxy(ctx, i.cfg.Invoker, i.cfg.Parser, i.locator, OpFindObjectByID, ref.Identity())
		if err != nil {
			if types.IsUserError(err, ObjectNotFoundTypeID) {
				return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref.Identity())
			}
			return nil, err
		}
		if prx == nil {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, ref.Identity())
		}
		i.objects.Add(ref.Identity(), cacheEntry{proxy: prx, at: i.cfg.Clock.Now()})
		return prx, nil
	})
	if err != nil {
		i.trace(fmt.Sprintf("couldn't find endpoints for object `%s': %v", ref.Identity(), err))
		return nil, false, err
	}
	prx := v.(*reference.Reference)
	switch {
	case !prx.IsIndirect():
		i.trace(fmt.Sprintf("found endpoints for object `%s': %s", ref.Identity(), endpoint.ListToString(prx.Endpoints())))
		return prx.Endpoints(), false, nil
	case prx.AdapterID() != "":
		eps, _, err := i.adapterEndpoints(ctx, ref, prx.AdapterID())
		return eps, false, err
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrObjectNotFound, ref.Identity())
	}
}

func (i *Info) adapterEndpoints(ctx context.Context, ref *reference.Reference, adapterID string) ([]endpoint.Endpoint, bool, error) {
	ttl := ref.LocatorCacheTimeout()
	if e, ok := i.adapters.Get(adapterID); ok && i.fresh(e, ttl) {
		return e.endpoints, true, nil
	}

	v, err, _ := i.group.Do("adapter:"+adapterID, func() (any, error) {
		prx, err := callForProxy(ctx, i.cfg.Invoker, i.cfg.Parser, i.locator, OpFindAdapterByID, adapterID)
		if err != nil {
			if types.IsUserError(err, AdapterNotFoundTypeID) {
				return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, adapterID)
			}
			return nil, err
		}
		if prx == nil || len(prx.Endpoints()) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, adapterID)
		}
		i.adapters.Add(adapterID, cacheEntry{endpoints: prx.Endpoints(), at: i.cfg.Clock.Now()})
		return prx.Endpoints(), nil
	})
	if err != nil {
		i.trace(fmt.Sprintf("couldn't find endpoints for adapter `%s': %v", adapterID, err))
		return nil, false, err
	}
	eps := v.([]endpoint.Endpoint)
	i.trace(fmt.Sprintf("found endpoints for adapter `%s': %s", adapterID, endpoint.ListToString(eps)))
	return eps, false, nil
}

func (i *Info) fresh(e cacheEntry, ttl time.Duration) bool {
	switch {
	case ttl == 0:
		return false
	case ttl < 0:
		return true
	default:
		return i.cfg.Clock.Since(e.at) <= ttl
	}
}

// ClearCache 清除 ref 对应的缓存条目
func (i *Info) ClearCache(ref *reference.Reference) {
	if ref.AdapterID() != "" {
		if i.adapters.Remove(ref.AdapterID()) {
			i.trace(fmt.Sprintf("removed endpoints for adapter `%s' from locator table", ref.AdapterID()))
		}
		return
	}
	if e, ok := i.objects.Peek(ref.Identity()); ok {
		i.objects.Remove(ref.Identity())
		if e.proxy.AdapterID() != "" {
			i.adapters.Remove(e.proxy.AdapterID())
		}
		i.trace(fmt.Sprintf("removed endpoints for object `%s' from locator table", ref.Identity()))
	}
}

// Registry 返回定位器注册表代理
func (i *Info) Registry(ctx context.Context) (*reference.Reference, error) {
	i.mu.Lock()
	if i.registry != nil {
		r := i.registry
		i.mu.Unlock()
		return r, nil
	}
	i.mu.Unlock()

	r, err := callForProxy(ctx, i.cfg.Invoker, i.cfg.Parser, i.locator, OpGetRegistry, nil)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNoRegistry
	}
	// 注册表与定位器位于同一服务，调用时不再经定位器解析
	r = r.WithLocator(nil)

	i.mu.Lock()
	if i.registry == nil {
		i.registry = r
	}
	r = i.registry
	i.mu.Unlock()
	return r, nil
}

// SetAdapterDirectProxy 在注册表中登记（proxy 为 nil 时注销）适配器端点
func (i *Info) SetAdapterDirectProxy(ctx context.Context, adapterID, proxy string) error {
	reg, err := i.Registry(ctx)
	if err != nil {
		return err
	}
	return i.setProxy(ctx, reg, OpSetAdapterDirectProxy, SetProxyParams{ID: adapterID, Proxy: proxy}, AdapterNotFoundTypeID, ErrAdapterNotFound)
}

// SetServerProcessProxy 在注册表中登记服务器的 Process facet
//
// 注册表不认识 serverID 时返回包装了 ErrServerNotFound 的错误。
func (i *Info) SetServerProcessProxy(ctx context.Context, serverID, proxy string) error {
	reg, err := i.Registry(ctx)
	if err != nil {
		return err
	}
	return i.setProxy(ctx, reg, OpSetServerProcessProxy, SetProxyParams{ID: serverID, Proxy: proxy}, ServerNotFoundTypeID, ErrServerNotFound)
}

func (i *Info) setProxy(ctx context.Context, reg *reference.Reference, op string, p SetProxyParams, notFound string, notFoundErr error) error {
	if _, err := callForProxy(ctx, i.cfg.Invoker, i.cfg.Parser, reg, op, p); err != nil {
		if types.IsUserError(err, notFound) {
			return fmt.Errorf("%w: %s", notFoundErr, p.ID)
		}
		return err
	}
	return nil
}

func (i *Info) trace(msg string) {
	tracelevels.Trace(i.cfg.Logger, i.cfg.TraceLevel, 1, tracelevels.LocationCat, msg)
}

// ============================================================================
//                              LocatorManager
// ============================================================================

// Manager 按定位器代理缓存 Info
type Manager struct {
	cfg Config

	mu        sync.Mutex
	infos     map[string]*Info
	destroyed bool
}

// NewManager 创建定位器管理器
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Manager{cfg: cfg, infos: make(map[string]*Info)}
}

// Get 返回定位器对应的 Info，locator 为 nil 或管理器已销毁时返回 nil
func (m *Manager) Get(locator *reference.Reference) *Info {
	if locator == nil {
		return nil
	}
	// 定位器代理本身不经定位器解析
	locator = locator.WithLocator(nil)
	key := locatorKey(locator)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil
	}
	if info, ok := m.infos[key]; ok {
		return info
	}
	info := newInfo(locator, m.cfg)
	m.infos[key] = info
	logger.Debug("创建定位器信息", "locator", key)
	return info
}

// Len 已缓存的定位器数量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.infos)
}

// Destroy 清空所有定位器缓存
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		info.adapters.Purge()
		info.objects.Purge()
	}
	m.infos = make(map[string]*Info)
	m.destroyed = true
}

func locatorKey(r *reference.Reference) string {
	id := r.Identity()
	key := id.Category + "/" + id.Name + "|" + r.Facet() + "|" + r.AdapterID() + "|" + endpoint.ListToString(r.Endpoints())
	return key
}

// IsNotFound 判断错误是否为定位失败
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAdapterNotFound) || errors.Is(err, ErrObjectNotFound)
}
