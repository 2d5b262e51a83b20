package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-commrt/internal/core/transport"
	"github.com/dep2p/go-commrt/pkg/lib/log"
)

var logger = log.Logger("core/transport/tcp")

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport tcp / ssl 传输
type Transport struct {
	secure bool

	listeners   map[*Listener]struct{}
	listenersMu sync.Mutex

	closed atomic.Bool
}

// 确保实现 transport.Transport 接口
var _ transport.Transport = (*Transport)(nil)

// NewTransport 创建传输，secure 为 true 时为 ssl
func NewTransport(secure bool) *Transport {
	return &Transport{secure: secure, listeners: make(map[*Listener]struct{})}
}

// Protocol 协议名
func (t *Transport) Protocol() string {
	if t.secure {
		return "ssl"
	}
	return "tcp"
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, addr string, opts transport.DialOptions) (transport.Transceiver, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	if t.secure && opts.TLS == nil {
		return nil, transport.ErrTLSNotConfigured
	}

	dialer := &net.Dialer{}
	if opts.Timeout > 0 {
		dialer.Timeout = opts.Timeout
	}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !t.secure {
		return newConn(c, t.Protocol()), nil
	}

	cfg := opts.TLS.Clone()
	if cfg.ServerName == "" && opts.Host != "" {
		cfg.ServerName = opts.Host
	}
	tc := tls.Client(c, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
	}
	return newConn(tc, t.Protocol()), nil
}

// Listen 在 addr 上监听
func (t *Transport) Listen(addr string, opts transport.ListenOptions) (transport.Acceptor, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	if t.secure && opts.TLS == nil {
		return nil, transport.ErrTLSNotConfigured
	}
	l, err := newListener(addr, opts.TLS, t.Protocol())
	if err != nil {
		return nil, err
	}
	t.listenersMu.Lock()
	t.listeners[l] = struct{}{}
	t.listenersMu.Unlock()
	logger.Debug("listening", "protocol", t.Protocol(), "addr", l.Addr().String())
	return l, nil
}

// Close 关闭所有监听器
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	for l := range t.listeners {
		_ = l.Close()
	}
	t.listeners = make(map[*Listener]struct{})
	return nil
}
