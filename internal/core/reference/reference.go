package reference

import (
	"maps"
	"time"

	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/pkg/types"
)

// Mode 调用方式
type Mode int

const (
	// ModeTwoway 双向调用，等待应答
	ModeTwoway Mode = iota
	// ModeOneway 单向调用
	ModeOneway
)

// Reference 描述如何到达一个远程对象
//
// Reference 不可变，With* 方法返回副本。
type Reference struct {
	identity            types.Identity
	facet               string
	mode                Mode
	secure              bool
	preferSecure        bool
	endpoints           []endpoint.Endpoint
	adapterID           string
	locator             *Reference
	router              *Reference
	invocationTimeout   time.Duration
	locatorCacheTimeout time.Duration
	context             map[string]string
}

// Identity 目标身份
func (r *Reference) Identity() types.Identity { return r.identity }

// Facet 目标 facet
func (r *Reference) Facet() string { return r.facet }

// Mode 调用方式
func (r *Reference) Mode() Mode { return r.mode }

// Secure 是否只使用安全端点
func (r *Reference) Secure() bool { return r.secure }

// PreferSecure 选择端点时是否把安全端点排在前面
func (r *Reference) PreferSecure() bool { return r.preferSecure }

// Endpoints 直连端点
func (r *Reference) Endpoints() []endpoint.Endpoint { return r.endpoints }

// AdapterID 间接代理的适配器 ID
func (r *Reference) AdapterID() string { return r.adapterID }

// Locator 定位器代理
func (r *Reference) Locator() *Reference { return r.locator }

// Router 路由器代理
func (r *Reference) Router() *Reference { return r.router }

// InvocationTimeout 调用超时，负数表示无限
func (r *Reference) InvocationTimeout() time.Duration { return r.invocationTimeout }

// LocatorCacheTimeout 定位缓存有效期，负数表示永不过期
func (r *Reference) LocatorCacheTimeout() time.Duration { return r.locatorCacheTimeout }

// Context 每次调用附带的上下文
func (r *Reference) Context() map[string]string { return r.context }

// IsIndirect 是否需要经定位器解析
func (r *Reference) IsIndirect() bool { return len(r.endpoints) == 0 }

// IsWellKnown 是否为仅凭身份查找的间接代理
func (r *Reference) IsWellKnown() bool { return r.IsIndirect() && r.adapterID == "" }

func (r *Reference) clone() *Reference {
	c := *r
	return &c
}

// WithIdentity 返回替换身份后的副本
func (r *Reference) WithIdentity(id types.Identity) *Reference {
	c := r.clone()
	c.identity = id
	return c
}

// WithFacet 返回替换 facet 后的副本
func (r *Reference) WithFacet(facet string) *Reference {
	c := r.clone()
	c.facet = facet
	return c
}

// WithMode 返回替换调用方式后的副本
func (r *Reference) WithMode(m Mode) *Reference {
	c := r.clone()
	c.mode = m
	return c
}

// WithSecure 返回替换安全标志后的副本
func (r *Reference) WithSecure(secure bool) *Reference {
	c := r.clone()
	c.secure = secure
	return c
}

// WithPreferSecure 返回替换安全端点优先标志后的副本
func (r *Reference) WithPreferSecure(prefer bool) *Reference {
	c := r.clone()
	c.preferSecure = prefer
	return c
}

// WithEndpoints 返回直连副本，清除适配器 ID
func (r *Reference) WithEndpoints(eps []endpoint.Endpoint) *Reference {
	c := r.clone()
	c.endpoints = append([]endpoint.Endpoint(nil), eps...)
	c.adapterID = ""
	return c
}

// WithAdapterID 返回间接副本，清除端点
func (r *Reference) WithAdapterID(id string) *Reference {
	c := r.clone()
	c.adapterID = id
	c.endpoints = nil
	return c
}

// WithLocator 返回替换定位器后的副本
func (r *Reference) WithLocator(l *Reference) *Reference {
	c := r.clone()
	c.locator = l
	return c
}

// WithRouter 返回替换路由器后的副本
func (r *Reference) WithRouter(rt *Reference) *Reference {
	c := r.clone()
	c.router = rt
	return c
}

// WithInvocationTimeout 返回替换调用超时后的副本
func (r *Reference) WithInvocationTimeout(d time.Duration) *Reference {
	c := r.clone()
	c.invocationTimeout = d
	return c
}

// WithLocatorCacheTimeout 返回替换定位缓存有效期后的副本
func (r *Reference) WithLocatorCacheTimeout(d time.Duration) *Reference {
	c := r.clone()
	c.locatorCacheTimeout = d
	return c
}

// WithContext 返回替换上下文后的副本
func (r *Reference) WithContext(ctx map[string]string) *Reference {
	c := r.clone()
	c.context = maps.Clone(ctx)
	return c
}
