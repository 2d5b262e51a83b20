package instance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/admin"
	"github.com/dep2p/go-commrt/internal/core/lifecycle"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// AdminAdapterName 管理适配器名称，其端点来自 Ice.Admin.Endpoints
const AdminAdapterName = "Ice.Admin"

// ============================================================================
//                              管理对象
// ============================================================================

// CreateAdmin 创建管理对象
//
// a 为 nil 时按 Ice.Admin.Endpoints 创建并激活管理适配器。
// 已缓存的 facet 中被 Ice.Admin.Facets 允许的部分迁移到适配器上。
// 配置了定位器与 Ice.Admin.ServerId 时向定位器注册表登记 Process 代理。
func (i *Instance) CreateAdmin(ctx context.Context, a *adapter.ObjectAdapter, id types.Identity) (*reference.Reference, error) {
	i.lc.Lock()
	if err := i.lc.CheckLocked(); err != nil {
		i.lc.Unlock()
		return nil, err
	}
	if i.adminAdapter != nil || i.adminCreating {
		i.lc.Unlock()
		return nil, types.NewInitializationError("Admin already created")
	}
	if !i.cfg.Admin.Enabled {
		i.lc.Unlock()
		return nil, types.NewInitializationError("Admin is disabled")
	}
	if a == nil && i.props.Get("Ice.Admin.Endpoints") == "" {
		i.lc.Unlock()
		return nil, types.NewInitializationError("Ice.Admin.Endpoints is not set")
	}
	i.adminCreating = true
	i.lc.Unlock()

	return i.installAdmin(ctx, a, id)
}

// GetAdmin 返回管理对象代理，必要时创建
//
// 管理对象被禁用或未配置 Ice.Admin.Endpoints 时返回 nil 且不报错。
func (i *Instance) GetAdmin(ctx context.Context) (*reference.Reference, error) {
	i.lc.Lock()
	for i.adminCreating && i.lc.StateLocked() != lifecycle.StateDestroyed {
		i.adminCond.Wait()
	}
	if err := i.lc.CheckLocked(); err != nil {
		i.lc.Unlock()
		return nil, err
	}
	if i.adminAdapter != nil {
		a, id := i.adminAdapter, i.adminIdentity
		i.lc.Unlock()
		return a.CreateProxy(id)
	}
	if !i.cfg.Admin.Enabled || i.props.Get("Ice.Admin.Endpoints") == "" {
		i.lc.Unlock()
		return nil, nil
	}

	category := i.cfg.Admin.InstanceName
	if category == "" {
		category = uuid.NewString()
	}
	id := types.Identity{Name: "admin", Category: category}
	i.adminCreating = true
	i.lc.Unlock()

	return i.installAdmin(ctx, nil, id)
}

// installAdmin 安装管理适配器，调用方已设置 adminCreating
func (i *Instance) installAdmin(ctx context.Context, a *adapter.ObjectAdapter, id types.Identity) (*reference.Reference, error) {
	created := a == nil
	if created {
		f, err := i.ObjectAdapterFactory()
		if err == nil {
			a, err = f.Create(AdminAdapterName, adapter.CreateOptions{})
		}
		if err != nil {
			i.abortAdmin()
			return nil, err
		}
	}

	i.lc.Lock()
	if err := i.lc.CheckLocked(); err != nil {
		i.adminCreating = false
		i.adminCond.Broadcast()
		i.lc.Unlock()
		if created {
			a.Destroy()
		}
		return nil, err
	}
	i.adminAdapter = a
	i.adminIdentity = id
	for name, s := range i.adminFacets {
		if !i.adminFilter.Allows(name) {
			continue
		}
		if err := a.AddFacet(s, id, name); err != nil {
			logger.Warn("迁移管理 facet 失败", "facet", name, "error", err)
			continue
		}
		delete(i.adminFacets, name)
	}
	i.adminCreating = false
	i.adminCond.Broadcast()
	i.lc.Unlock()

	if created {
		if err := a.Activate(ctx); err != nil {
			i.rollbackAdmin(a, id)
			return nil, err
		}
	}

	if err := i.SetServerProcessProxy(ctx, a, id); err != nil {
		return nil, err
	}
	logger.Debug("管理对象已创建", "adapter", a.Name(), "identity", id.Name, "category", id.Category)
	return a.CreateProxy(id)
}

func (i *Instance) abortAdmin() {
	i.lc.Lock()
	i.adminCreating = false
	i.adminCond.Broadcast()
	i.lc.Unlock()
}

// rollbackAdmin 激活失败时把 facet 放回缓存并销毁适配器
func (i *Instance) rollbackAdmin(a *adapter.ObjectAdapter, id types.Identity) {
	i.lc.Lock()
	if i.adminAdapter == a {
		if facets, err := a.RemoveAllFacets(id); err == nil {
			for name, s := range facets {
				i.adminFacets[name] = s
			}
		}
		i.adminAdapter = nil
		i.adminIdentity = types.Identity{}
	}
	i.lc.Unlock()
	a.Destroy()
}

// SetServerProcessProxy 向定位器注册表登记管理对象的 Process facet
//
// 适配器没有定位器或未设置 Ice.Admin.ServerId 时不做任何事。
// 注册表不认识该服务器时返回 InitializationError。
func (i *Instance) SetServerProcessProxy(ctx context.Context, a *adapter.ObjectAdapter, id types.Identity) error {
	serverID := i.cfg.Admin.ServerID
	loc := a.Locator()
	if loc == nil || serverID == "" {
		return nil
	}

	ref, err := a.CreateProxy(id)
	if err != nil {
		return err
	}
	locs, err := i.LocatorManager()
	if err != nil {
		return err
	}
	info := locs.Get(loc)
	proxy := i.ProxyToString(ref.WithFacet(admin.ProcessFacet))

	if err := info.SetServerProcessProxy(ctx, serverID, proxy); err != nil {
		if errors.Is(err, locator.ErrServerNotFound) {
			i.traceLocation(fmt.Sprintf("couldn't register server `%s' with the locator registry:\nthe server is not known to the locator registry", serverID))
			return types.NewInitializationError("Locator knows nothing about server `%s'", serverID)
		}
		i.traceLocation(fmt.Sprintf("couldn't register server `%s' with the locator registry:\n%v", serverID, err))
		return err
	}
	i.traceLocation(fmt.Sprintf("registered server `%s' with the locator registry", serverID))
	return nil
}

func (i *Instance) traceLocation(msg string) {
	tracelevels.Trace(i.logger, i.traces.Location, 1, tracelevels.LocationCat, msg)
}

// ============================================================================
//                              管理 facet
// ============================================================================

// onAdapterLocked facet 是否应直接注册到管理适配器，调用方持有锁
func (i *Instance) onAdapterLocked(name string) bool {
	return i.adminAdapter != nil && i.adminFilter.Allows(name)
}

// AddAdminFacet 注册管理 facet
//
// 管理适配器存在且 facet 被允许时注册到适配器，否则缓存。
// 名称重复时返回 ErrAlreadyRegistered。
func (i *Instance) AddAdminFacet(s interfaces.Servant, name string) error {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return err
	}
	if i.onAdapterLocked(name) {
		return i.adminAdapter.AddFacet(s, i.adminIdentity, name)
	}
	if _, ok := i.adminFacets[name]; ok {
		return types.AlreadyRegistered("facet", name)
	}
	i.adminFacets[name] = s
	return nil
}

// RemoveAdminFacet 移除管理 facet，不存在时返回 ErrNotRegistered
func (i *Instance) RemoveAdminFacet(name string) (interfaces.Servant, error) {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return nil, err
	}
	if i.onAdapterLocked(name) {
		return i.adminAdapter.RemoveFacet(i.adminIdentity, name)
	}
	s, ok := i.adminFacets[name]
	if !ok {
		return nil, types.NotRegistered("facet", name)
	}
	delete(i.adminFacets, name)
	return s, nil
}

// FindAdminFacet 查找管理 facet，不存在时返回 nil
func (i *Instance) FindAdminFacet(name string) (interfaces.Servant, error) {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return nil, err
	}
	if i.onAdapterLocked(name) {
		return i.adminAdapter.FindFacet(i.adminIdentity, name), nil
	}
	return i.adminFacets[name], nil
}

// FindAllAdminFacets 返回所有管理 facet，包括仍在缓存中的
func (i *Instance) FindAllAdminFacets() (map[string]interfaces.Servant, error) {
	i.lc.Lock()
	defer i.lc.Unlock()
	if err := i.lc.CheckLocked(); err != nil {
		return nil, err
	}
	all := make(map[string]interfaces.Servant, len(i.adminFacets))
	if i.adminAdapter != nil {
		for name, s := range i.adminAdapter.FindAllFacets(i.adminIdentity) {
			all[name] = s
		}
	}
	for name, s := range i.adminFacets {
		all[name] = s
	}
	return all, nil
}

// adminFacetNames 返回排序后的管理 facet 名称
func (i *Instance) adminFacetNames() []string {
	all, err := i.FindAllAdminFacets()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
