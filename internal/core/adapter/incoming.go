package adapter

import (
	"errors"
	"sync"

	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/connmgr"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/transport"
)

// IncomingFactory 一个端点上的监听器与已接收的连接
type IncomingFactory struct {
	endpoint endpoint.Endpoint
	acceptor transport.Acceptor
	cfg      connection.Config
	monitor  *connmgr.Monitor

	mu       sync.Mutex
	conns    map[*connection.Connection]struct{}
	started  bool
	closed   bool
	loopDone chan struct{}
}

// newIncomingFactory 在 ep 上监听，Activate 之后才开始接收连接
func newIncomingFactory(ep endpoint.Endpoint, cfg connection.Config, monitor *connmgr.Monitor) (*IncomingFactory, error) {
	acc, bound, err := ep.Listen()
	if err != nil {
		return nil, err
	}
	return &IncomingFactory{
		endpoint: bound,
		acceptor: acc,
		cfg:      cfg,
		monitor:  monitor,
		conns:    make(map[*connection.Connection]struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Endpoint 实际监听的端点（端口已确定）
func (f *IncomingFactory) Endpoint() endpoint.Endpoint { return f.endpoint }

// Activate 启动接收循环
func (f *IncomingFactory) Activate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	f.started = true
	go f.acceptLoop()
}

func (f *IncomingFactory) acceptLoop() {
	defer close(f.loopDone)
	for {
		tr, err := f.acceptor.Accept()
		if err != nil {
			if f.isClosed() || errors.Is(err, transport.ErrAcceptorClosed) {
				return
			}
			logger.Debug("接受连接失败", "endpoint", f.endpoint.String(), "error", err)
			continue
		}
		go f.accept(tr)
	}
}

func (f *IncomingFactory) accept(tr transport.Transceiver) {
	c, err := connection.NewIncoming(tr, f.endpoint, f.cfg)
	if err != nil {
		logger.Debug("入站连接验证失败", "remote", tr.RemoteAddr().String(), "error", err)
		_ = tr.Close()
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		c.Close(connection.CloseForcefully)
		return
	}
	f.conns[c] = struct{}{}
	f.mu.Unlock()

	if f.monitor != nil {
		f.monitor.Add(c)
	}
	c.OnClose(f.remove)
}

func (f *IncomingFactory) remove(c *connection.Connection) {
	if f.monitor != nil {
		f.monitor.Remove(c)
	}
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

func (f *IncomingFactory) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Connections 已接收的连接
func (f *IncomingFactory) Connections() []*connection.Connection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*connection.Connection, 0, len(f.conns))
	for c := range f.conns {
		out = append(out, c)
	}
	return out
}

// UpdateObservers 刷新所有连接的观察者
func (f *IncomingFactory) UpdateObservers() {
	for _, c := range f.Connections() {
		c.UpdateObserver()
	}
}

// Destroy 停止监听并优雅关闭所有连接
func (f *IncomingFactory) Destroy() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	started := f.started
	conns := make([]*connection.Connection, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	if err := f.acceptor.Close(); err != nil {
		logger.Debug("关闭监听器时出错", "endpoint", f.endpoint.String(), "error", err)
	}
	if !started {
		close(f.loopDone)
	}
	for _, c := range conns {
		c.Close(connection.CloseGracefully)
	}
}

// WaitUntilFinished 等待接收循环退出且所有连接关闭
func (f *IncomingFactory) WaitUntilFinished() {
	<-f.loopDone
	for _, c := range f.Connections() {
		c.WaitUntilFinished()
	}
}
