// Package implicitctx 实现隐式调用上下文
//
// 隐式上下文中的条目附加到经由该通信器发出的每个请求上：
//
//   - Shared    所有调用共享一个上下文
//   - PerThread 每个调用链独立；调用链由 NewContext 派生的 context.Context 界定，
//     未经 NewContext 的调用共享根作用域
//
// 请求最终的上下文由隐式上下文与代理上下文合并，后者优先。
package implicitctx

import (
	"context"
	"maps"
	"sync"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/pkg/types"
)

// ImplicitContext 隐式上下文
type ImplicitContext interface {
	// Context 返回当前作用域的副本
	Context(ctx context.Context) map[string]string

	// SetContext 替换当前作用域
	SetContext(ctx context.Context, m map[string]string)

	// ContainsKey 是否包含 key
	ContainsKey(ctx context.Context, key string) bool

	// Get 返回 key 的值，不存在时返回空字符串
	Get(ctx context.Context, key string) string

	// Put 设置 key，返回旧值
	Put(ctx context.Context, key, value string) string

	// Remove 删除 key，返回旧值
	Remove(ctx context.Context, key string) string

	// Combine 与代理上下文合并，代理上下文优先
	Combine(ctx context.Context, proxyCtx map[string]string) map[string]string
}

// Create 按类型创建隐式上下文，None 返回 nil
func Create(kind config.ImplicitContextKind) (ImplicitContext, error) {
	switch kind {
	case config.ImplicitContextNone:
		return nil, nil
	case config.ImplicitContextShared:
		return &shared{}, nil
	case config.ImplicitContextPerThread:
		return &perChain{}, nil
	default:
		return nil, types.NewInitializationError("'%s' is not a valid value for Ice.ImplicitContext", kind)
	}
}

// ============================================================================
//                              作用域
// ============================================================================

type scope struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *scope) context() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.m)
}

func (s *scope) set(m map[string]string) {
	s.mu.Lock()
	s.m = maps.Clone(m)
	s.mu.Unlock()
}

func (s *scope) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[key]
	return ok
}

func (s *scope) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

func (s *scope) put(key, value string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]string)
	}
	old := s.m[key]
	s.m[key] = value
	return old
}

func (s *scope) remove(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.m[key]
	delete(s.m, key)
	return old
}

func (s *scope) combine(proxyCtx map[string]string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.m) == 0 {
		return proxyCtx
	}
	out := maps.Clone(s.m)
	maps.Copy(out, proxyCtx)
	return out
}

// ============================================================================
//                              Shared
// ============================================================================

type shared struct {
	scope
}

func (s *shared) Context(context.Context) map[string]string         { return s.context() }
func (s *shared) SetContext(_ context.Context, m map[string]string) { s.set(m) }
func (s *shared) ContainsKey(_ context.Context, key string) bool    { return s.contains(key) }
func (s *shared) Get(_ context.Context, key string) string          { return s.get(key) }
func (s *shared) Put(_ context.Context, key, value string) string   { return s.put(key, value) }
func (s *shared) Remove(_ context.Context, key string) string       { return s.remove(key) }
func (s *shared) Combine(_ context.Context, proxyCtx map[string]string) map[string]string {
	return s.combine(proxyCtx)
}

// ============================================================================
//                              PerThread
// ============================================================================

type scopeKey struct{}

// NewContext 派生一个拥有独立隐式上下文作用域的 context
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{})
}

type perChain struct {
	root scope
}

func (p *perChain) scope(ctx context.Context) *scope {
	if ctx != nil {
		if s, ok := ctx.Value(scopeKey{}).(*scope); ok {
			return s
		}
	}
	return &p.root
}

func (p *perChain) Context(ctx context.Context) map[string]string { return p.scope(ctx).context() }
func (p *perChain) SetContext(ctx context.Context, m map[string]string) {
	p.scope(ctx).set(m)
}
func (p *perChain) ContainsKey(ctx context.Context, key string) bool {
	return p.scope(ctx).contains(key)
}
func (p *perChain) Get(ctx context.Context, key string) string { return p.scope(ctx).get(key) }
func (p *perChain) Put(ctx context.Context, key, value string) string {
	return p.scope(ctx).put(key, value)
}
func (p *perChain) Remove(ctx context.Context, key string) string { return p.scope(ctx).remove(key) }
func (p *perChain) Combine(ctx context.Context, proxyCtx map[string]string) map[string]string {
	return p.scope(ctx).combine(proxyCtx)
}
