package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-commrt/internal/core/transport"
	"github.com/dep2p/go-commrt/pkg/lib/log"
)

var logger = log.Logger("core/transport/ws")

// Subprotocol 握手时协商的子协议
const Subprotocol = "commrt.protocol"

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport ws / wss 传输
type Transport struct {
	secure bool

	listeners   map[*Listener]struct{}
	listenersMu sync.Mutex

	closed atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport 创建传输，secure 为 true 时为 wss
func NewTransport(secure bool) *Transport {
	return &Transport{secure: secure, listeners: make(map[*Listener]struct{})}
}

// Protocol 协议名
func (t *Transport) Protocol() string {
	if t.secure {
		return "wss"
	}
	return "ws"
}

// Dial 完成 WebSocket 握手
func (t *Transport) Dial(ctx context.Context, addr string, opts transport.DialOptions) (transport.Transceiver, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	if t.secure && opts.TLS == nil {
		return nil, transport.ErrTLSNotConfigured
	}

	scheme := "ws"
	if t.secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: addr, Path: resourcePath(opts.Resource)}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		TLSClientConfig:  opts.TLS,
		Subprotocols:     []string{Subprotocol},
	}
	if opts.TLS != nil && opts.TLS.ServerName == "" && opts.Host != "" {
		cfg := opts.TLS.Clone()
		cfg.ServerName = opts.Host
		dialer.TLSClientConfig = cfg
	}

	var header http.Header
	if opts.Host != "" {
		header = http.Header{"Host": []string{opts.Host}}
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", u.String(), err)
	}
	return newConn(c, t.Protocol()), nil
}

// Listen 启动 HTTP 服务并在资源路径上接受 WebSocket 升级
func (t *Transport) Listen(addr string, opts transport.ListenOptions) (transport.Acceptor, error) {
	if t.closed.Load() {
		return nil, transport.ErrTransportClosed
	}
	if t.secure && opts.TLS == nil {
		return nil, transport.ErrTLSNotConfigured
	}
	l, err := newListener(addr, opts.TLS, opts.Resource, t.Protocol())
	if err != nil {
		return nil, err
	}
	t.listenersMu.Lock()
	t.listeners[l] = struct{}{}
	t.listenersMu.Unlock()
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

func resourcePath(r string) string {
	if r == "" {
		return "/"
	}
	if r[0] != '/' {
		return "/" + r
	}
	return r
}

// ============================================================================
//                              Listener 实现
// ============================================================================

// Listener WebSocket 监听器
type Listener struct {
	ln       net.Listener
	srv      *http.Server
	protocol string

	conns  chan *Conn
	done   chan struct{}
	closed atomic.Bool
}

var _ transport.Acceptor = (*Listener)(nil)

func newListener(addr string, tlsCfg *tls.Config, resource, protocol string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	l := &Listener{
		ln:       ln,
		protocol: protocol,
		conns:    make(chan *Conn),
		done:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	mux := http.NewServeMux()
	mux.HandleFunc(resourcePath(resource), func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		conn := newConn(c, protocol)
		select {
		case l.conns <- conn:
		case <-l.done:
			_ = conn.Close()
		}
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("websocket server stopped", "addr", ln.Addr().String(), "err", err)
		}
	}()
	return l, nil
}

// Accept 返回下一条已升级的连接
func (l *Listener) Accept() (transport.Transceiver, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, transport.ErrAcceptorClosed
	}
}

// Addr 实际监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close 停止 HTTP 服务
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	return l.srv.Close()
}
