package connection

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-commrt/internal/core/connmgr"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// Resolver 主机名解析
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error)
}

// ============================================================================
//                              OutgoingFactory 实现
// ============================================================================

// OutgoingFactory 出站连接工厂
type OutgoingFactory struct {
	cfg      Config
	resolver Resolver
	monitor  *connmgr.Monitor

	mu         sync.Mutex
	conns      map[string][]*Connection
	destroyed  bool
	connecting sync.WaitGroup

	group singleflight.Group
}

// NewOutgoingFactory 创建出站连接工厂
//
// monitor 可为 nil；非 nil 时由工厂在 Destroy 中销毁。
func NewOutgoingFactory(cfg Config, r Resolver, monitor *connmgr.Monitor) *OutgoingFactory {
	cfg.setDefaults()
	return &OutgoingFactory{
		cfg:      cfg,
		resolver: r,
		monitor:  monitor,
		conns:    make(map[string][]*Connection),
	}
}

// Create 返回到 eps 中任一端点的连接
//
// 优先复用活跃连接；否则依次尝试各端点，同一端点的并发建连合并为一次。
func (f *OutgoingFactory) Create(ctx context.Context, eps []endpoint.Endpoint) (*Connection, error) {
	if len(eps) == 0 {
		return nil, types.ErrNoEndpoint
	}

	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return nil, types.ErrCommunicatorDestroyed
	}
	for _, ep := range eps {
		for _, c := range f.conns[ep.String()] {
			if c.Active() {
				f.mu.Unlock()
				return c, nil
			}
		}
	}
	f.mu.Unlock()

	var errs error
	for _, ep := range eps {
		c, err := f.connectShared(ctx, ep)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, types.ErrCommunicatorDestroyed) || ctx.Err() != nil {
			return nil, err
		}
		errs = multierr.Append(errs, err)
	}
	return nil, errs
}

func (f *OutgoingFactory) connectShared(ctx context.Context, ep endpoint.Endpoint) (*Connection, error) {
	ch := f.group.DoChan(ep.String(), func() (any, error) {
		return f.connect(ep)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Connection), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, types.ErrInvocationTimeout
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvocationCanceled, ctx.Err())
	}
}

// connect 解析并依次拨号各地址
func (f *OutgoingFactory) connect(ep endpoint.Endpoint) (*Connection, error) {
	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return nil, types.ErrCommunicatorDestroyed
	}
	for _, c := range f.conns[ep.String()] {
		if c.Active() {
			f.mu.Unlock()
			return c, nil
		}
	}
	f.connecting.Add(1)
	f.mu.Unlock()
	defer f.connecting.Done()

	obs := f.establishmentObserver(ep)

	ctx := context.Background()
	if d := ep.Timeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	addrs, err := f.resolver.Resolve(ctx, ep.Host(), ep.Port())
	if err != nil {
		if obs != nil {
			obs.Failed(err)
			obs.Detach()
		}
		return nil, err
	}

	var errs error
	for _, addr := range addrs {
		f.trace(fmt.Sprintf("trying to establish %s connection to %s", ep.Protocol(), addr))
		tr, err := ep.Dial(ctx, addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %v", types.ErrConnectFailed, addr, err))
			continue
		}
		c, err := NewOutgoing(ctx, tr, ep, f.cfg)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		f.mu.Lock()
		if f.destroyed {
			f.mu.Unlock()
			c.Destroy(types.ErrCommunicatorDestroyed)
			if obs != nil {
				obs.Detach()
			}
			return nil, types.ErrCommunicatorDestroyed
		}
		key := ep.String()
		f.conns[key] = append(f.conns[key], c)
		f.mu.Unlock()

		c.OnClose(f.remove)
		if f.monitor != nil {
			f.monitor.Add(c)
		}
		if obs != nil {
			obs.Detach()
		}
		return c, nil
	}

	if errs == nil {
		errs = fmt.Errorf("%w: %s resolved to no addresses", types.ErrConnectFailed, ep)
	}
	if obs != nil {
		obs.Failed(errs)
		obs.Detach()
	}
	f.trace(fmt.Sprintf("failed to establish %s connection: %v", ep.Protocol(), errs))
	return nil, errs
}

func (f *OutgoingFactory) establishmentObserver(ep endpoint.Endpoint) interfaces.Observer {
	if f.cfg.Observer == nil {
		return nil
	}
	o := f.cfg.Observer.ConnectionEstablishmentObserver(ep.String())
	if o == nil {
		return nil
	}
	o.Attach()
	return o
}

func (f *OutgoingFactory) remove(c *Connection) {
	if f.monitor != nil {
		f.monitor.Remove(c)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := c.Endpoint().String()
	list := f.conns[key]
	for i, x := range list {
		if x == c {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(f.conns, key)
	} else {
		f.conns[key] = list
	}
}

// Connections 返回所有客户端连接
func (f *OutgoingFactory) Connections() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Connection
	for _, list := range f.conns {
		out = append(out, list...)
	}
	return out
}

// UpdateObservers 刷新所有连接的观察者
func (f *OutgoingFactory) UpdateObservers() {
	for _, c := range f.Connections() {
		c.UpdateObserver()
	}
}

// Destroy 停止创建连接并关闭已有连接
//
// 之后 Create 返回 ErrCommunicatorDestroyed；连接的关闭不等待完成。
func (f *OutgoingFactory) Destroy() {
	f.mu.Lock()
	if f.destroyed {
		f.mu.Unlock()
		return
	}
	f.destroyed = true
	var conns []*Connection
	for _, list := range f.conns {
		conns = append(conns, list...)
	}
	f.mu.Unlock()

	if f.monitor != nil {
		f.monitor.Destroy()
	}
	for _, c := range conns {
		c.Destroy(types.ErrCommunicatorDestroyed)
	}
}

// IsDestroyed 是否已销毁
func (f *OutgoingFactory) IsDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// WaitUntilFinished 等待进行中的建连与所有连接结束
//
// 必须在 Destroy 之后调用。
func (f *OutgoingFactory) WaitUntilFinished() {
	f.connecting.Wait()
	for _, c := range f.Connections() {
		c.WaitUntilFinished()
	}
	f.mu.Lock()
	f.conns = make(map[string][]*Connection)
	f.mu.Unlock()
}

func (f *OutgoingFactory) trace(msg string) {
	tracelevels.Trace(f.cfg.Logger, f.cfg.Traces.Network, 2, tracelevels.NetworkCat, msg)
}
