package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dep2p/go-commrt/internal/core/transport"
)

// ============================================================================
//                              Listener 实现
// ============================================================================

// Listener TCP 监听器
type Listener struct {
	listener net.Listener
	tls      *tls.Config
	protocol string
	closed   atomic.Bool
}

// 确保实现接口
var _ transport.Acceptor = (*Listener)(nil)

// newListener 创建 TCP 监听器
func newListener(addr string, tlsCfg *tls.Config, protocol string) (*Listener, error) {
	lc := net.ListenConfig{}
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{listener: l, tls: tlsCfg, protocol: protocol}, nil
}

// Accept 接受连接；ssl 监听器在返回前完成 TLS 握手
func (l *Listener) Accept() (transport.Transceiver, error) {
	for {
		c, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil, transport.ErrAcceptorClosed
			}
			return nil, err
		}
		if l.tls == nil {
			return newConn(c, l.protocol), nil
		}

		tc := tls.Server(c, l.tls)
		if err := tc.Handshake(); err != nil {
			logger.Debug("TLS handshake failed", "remote", c.RemoteAddr().String(), "err", err)
			_ = c.Close()
			continue
		}
		return newConn(tc, l.protocol), nil
	}
}

// Addr 返回实际监听地址
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close 关闭监听器
func (l *Listener) Close() error {
	if l.closed.CompareAndSwap(false, true) {
		return l.listener.Close()
	}
	return nil
}

