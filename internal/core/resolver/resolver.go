// Package resolver 实现端点主机名解析器
//
// 名称解析在唯一一个专用 goroutine 上执行，线程池中的连接建立
// 不会因 DNS 阻塞。数字地址不进入队列，直接返回。
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/resolver")

// LookupFunc 主机名查询函数
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Option 解析器选项
type Option func(*Resolver)

// WithLookup 替换查询函数（测试中使用）
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithLogger 设置通信器 Logger
func WithLogger(l interfaces.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithTraceLevel 设置 Ice.Trace.Network 级别
func WithTraceLevel(level int) Option {
	return func(r *Resolver) { r.traceLevel = level }
}

type result struct {
	addrs []netip.AddrPort
	err   error
}

type request struct {
	ctx   context.Context
	host  string
	port  int
	reply chan result
}

// Resolver 端点主机名解析器
type Resolver struct {
	cfg        config.NetworkConfig
	lookup     LookupFunc
	logger     interfaces.Logger
	traceLevel int
	cache      *expirable.LRU[string, []netip.Addr]

	mu        sync.Mutex
	queue     []*request
	destroyed bool

	signal chan struct{}
	done   chan struct{}

	obsMu    sync.Mutex
	observer interfaces.ThreadObserver
}

// New 创建解析器并启动其 goroutine
func New(cfg config.NetworkConfig, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		lookup: defaultLookup,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.DNSCacheTimeout > 0 {
		size := cfg.DNSCacheSize
		if size <= 0 {
			size = 256
		}
		r.cache = expirable.NewLRU[string, []netip.Addr](size, nil, cfg.DNSCacheTimeout.Duration())
	}
	go r.run()
	return r
}

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Resolve 解析 host:port，返回按协议偏好排序的地址
func (r *Resolver) Resolve(ctx context.Context, host string, port int) ([]netip.AddrPort, error) {
	if addrs, ok := r.numeric(host, port); ok {
		if len(addrs) == 0 {
			return nil, fmt.Errorf("%w: %s: address family disabled", types.ErrDNS, host)
		}
		return addrs, nil
	}
	if r.cache != nil {
		if ips, ok := r.cache.Get(host); ok {
			return r.withPort(ips, port), nil
		}
	}

	req := &request{ctx: ctx, host: host, port: port, reply: make(chan result, 1)}
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil, types.ErrCommunicatorDestroyed
	}
	r.queue = append(r.queue, req)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}

	select {
	case res := <-req.reply:
		return res.addrs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Destroy 停止解析循环，排队中的请求以 ErrCommunicatorDestroyed 失败
func (r *Resolver) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, req := range pending {
		req.reply <- result{err: types.ErrCommunicatorDestroyed}
	}
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Join 等待解析 goroutine 退出
func (r *Resolver) Join() {
	<-r.done
}

// UpdateObserver 从通信器观察者获取（或刷新）解析线程观察者
func (r *Resolver) UpdateObserver(obsv interfaces.CommunicatorObserver) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	old := r.observer
	if obsv == nil {
		r.observer = nil
	} else {
		r.observer = obsv.ThreadObserver("Communicator", "Ice.HostResolver", types.ThreadStateIdle, old)
	}
	if r.observer == old {
		return
	}
	if old != nil {
		old.Detach()
	}
	if r.observer != nil {
		r.observer.Attach()
	}
}

func (r *Resolver) run() {
	defer close(r.done)
	defer func() {
		r.obsMu.Lock()
		if r.observer != nil {
			r.observer.Detach()
		}
		r.obsMu.Unlock()
	}()

	for {
		r.mu.Lock()
		if r.destroyed {
			r.mu.Unlock()
			return
		}
		var req *request
		if len(r.queue) > 0 {
			req = r.queue[0]
			r.queue[0] = nil
			r.queue = r.queue[1:]
		}
		r.mu.Unlock()

		if req == nil {
			<-r.signal
			continue
		}
		req.reply <- r.resolve(req)
	}
}

func (r *Resolver) resolve(req *request) result {
	if err := req.ctx.Err(); err != nil {
		return result{err: err}
	}

	r.obsMu.Lock()
	obs := r.observer
	r.obsMu.Unlock()
	if obs != nil {
		obs.StateChanged(types.ThreadStateIdle, types.ThreadStateInUseForOther)
		defer obs.StateChanged(types.ThreadStateInUseForOther, types.ThreadStateIdle)
	}

	tracelevels.Trace(r.logger, r.traceLevel, 2, tracelevels.NetworkCat,
		"trying to resolve "+req.host)

	ips, err := r.lookup(req.ctx, req.host)
	if err != nil {
		logger.Debug("名称解析失败", "host", req.host, "error", err)
		return result{err: fmt.Errorf("%w: %s: %v", types.ErrDNS, req.host, err)}
	}
	ips = r.filter(ips)
	if len(ips) == 0 {
		return result{err: fmt.Errorf("%w: %s: no suitable address", types.ErrDNS, req.host)}
	}
	if r.cache != nil {
		r.cache.Add(req.host, ips)
	}
	return result{addrs: r.withPort(ips, req.port)}
}

// numeric 处理数字地址与空主机（回环地址），不经过解析队列
func (r *Resolver) numeric(host string, port int) ([]netip.AddrPort, bool) {
	if host == "" {
		var ips []netip.Addr
		if r.cfg.IPv4 {
			ips = append(ips, netip.AddrFrom4([4]byte{127, 0, 0, 1}))
		}
		if r.cfg.IPv6 {
			ips = append(ips, netip.IPv6Loopback())
		}
		return r.withPort(r.filter(ips), port), true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return nil, false
	}
	return r.withPort(r.filter([]netip.Addr{ip}), port), true
}

// filter 按 IPv4 / IPv6 设置过滤，并按 PreferIPv6 排序
func (r *Resolver) filter(ips []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		ip = ip.Unmap()
		if (ip.Is4() && r.cfg.IPv4) || (ip.Is6() && r.cfg.IPv6) {
			out = append(out, ip)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if r.cfg.PreferIPv6 {
			return out[i].Is6() && !out[j].Is6()
		}
		return out[i].Is4() && !out[j].Is4()
	})
	return out
}

func (r *Resolver) withPort(ips []netip.Addr, port int) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.AddrPortFrom(ip, uint16(port)))
	}
	return out
}

// HostPort 以 net.Dial 可用的形式格式化地址
func HostPort(ap netip.AddrPort) string {
	return net.JoinHostPort(ap.Addr().String(), strconv.Itoa(int(ap.Port())))
}
