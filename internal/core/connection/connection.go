package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/protocol"
	"github.com/dep2p/go-commrt/internal/core/threadpool"
	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/internal/core/transport"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/connection")

// closeTimeout 发送 CloseConnection 的写超时
const closeTimeout = 5 * time.Second

// CloseMode 关闭方式
type CloseMode int

const (
	// CloseForcefully 立即关闭传输
	CloseForcefully CloseMode = iota
	// CloseGracefully 等待分派结束后发送 CloseConnection
	CloseGracefully
)

// Dispatcher 处理入站请求
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Connection, req *protocol.Request) *protocol.Reply
}

// DispatcherFunc 函数适配为 Dispatcher
type DispatcherFunc func(ctx context.Context, c *Connection, req *protocol.Request) *protocol.Reply

// Dispatch 实现 Dispatcher
func (f DispatcherFunc) Dispatch(ctx context.Context, c *Connection, req *protocol.Request) *protocol.Reply {
	return f(ctx, c, req)
}

// Config 连接配置
type Config struct {
	// MessageSizeMax 单条消息上限（字节），<= 0 不限制
	MessageSizeMax int

	// Pool 入站请求的分派线程池，nil 时为每个请求启动 goroutine
	Pool *threadpool.ThreadPool

	// Dispatcher 入站请求处理器，nil 时回复 ObjectNotExist
	Dispatcher Dispatcher

	// Observer 插桩入口
	Observer interfaces.CommunicatorObserver

	// Logger 通信器 Logger，用于网络跟踪
	Logger interfaces.Logger

	// Traces 跟踪级别
	Traces *tracelevels.TraceLevels

	// Clock 活动时间的时钟源
	Clock clock.Clock
}

func (cfg *Config) setDefaults() {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Traces == nil {
		cfg.Traces = &tracelevels.TraceLevels{}
	}
}

type result struct {
	reply *protocol.Reply
	err   error
}

// ============================================================================
//                              Connection 实现
// ============================================================================

// Connection 一条请求/应答连接
type Connection struct {
	id       string
	tr       transport.Transceiver
	ep       endpoint.Endpoint
	incoming bool
	cfg      Config

	writeMu sync.Mutex

	mu          sync.Mutex
	cond        *sync.Cond
	state       types.ConnectionState
	closing     bool
	closeErr    error
	nextID      int32
	pending     map[int32]chan result
	dispatching int
	onClose     []func(*Connection)

	// 线程池 Serialize 时按到达顺序逐个分派
	serial        []serialItem
	serialRunning bool

	lastActivity atomic.Int64
	finished     chan struct{}

	obsMu    sync.Mutex
	observer interfaces.ConnectionObserver
}

func newConnection(tr transport.Transceiver, ep endpoint.Endpoint, incoming bool, cfg Config) *Connection {
	cfg.setDefaults()
	c := &Connection{
		id:       uuid.NewString(),
		tr:       tr,
		ep:       ep,
		incoming: incoming,
		cfg:      cfg,
		state:    types.ConnectionStateValidating,
		pending:  make(map[int32]chan result),
		finished: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.touch()
	c.updateObserver(types.ConnectionStateValidating)
	return c
}

// NewOutgoing 在已建立的传输上完成客户端验证握手
func NewOutgoing(ctx context.Context, tr transport.Transceiver, ep endpoint.Endpoint, cfg Config) (*Connection, error) {
	c := newConnection(tr, ep, false, cfg)

	if d := ep.Timeout(); d > 0 {
		_ = tr.SetDeadline(time.Now().Add(d))
	}
	stop := context.AfterFunc(ctx, func() { _ = tr.SetDeadline(time.Unix(1, 0)) })
	msg, err := protocol.ReadMessage(tr, c.cfg.MessageSizeMax)
	stop()
	if err == nil && msg.Type != protocol.MsgValidateConnection {
		err = fmt.Errorf("%w: expected validate connection, got %s", types.ErrProtocol, msg.Type)
	}
	if err != nil {
		_ = tr.Close()
		c.fail(err)
		return nil, fmt.Errorf("%w: %s: %v", types.ErrConnectFailed, ep, err)
	}
	_ = tr.SetDeadline(time.Time{})

	c.receivedBytes(msg.Size())
	c.activate()
	return c, nil
}

// NewIncoming 在接受的传输上发送验证消息并启动读循环
func NewIncoming(tr transport.Transceiver, ep endpoint.Endpoint, cfg Config) (*Connection, error) {
	c := newConnection(tr, ep, true, cfg)

	if d := ep.Timeout(); d > 0 {
		_ = tr.SetDeadline(time.Now().Add(d))
	}
	if err := c.send(&protocol.Message{Type: protocol.MsgValidateConnection}); err != nil {
		_ = tr.Close()
		c.fail(err)
		return nil, err
	}
	_ = tr.SetDeadline(time.Time{})

	c.activate()
	return c, nil
}

func (c *Connection) activate() {
	c.mu.Lock()
	c.state = types.ConnectionStateActive
	c.mu.Unlock()
	c.updateObserver(types.ConnectionStateActive)
	c.trace("established")
	go c.readLoop()
}

// fail 握手失败时收尾
func (c *Connection) fail(err error) {
	c.mu.Lock()
	c.state = types.ConnectionStateClosed
	c.closing = true
	c.closeErr = err
	c.mu.Unlock()
	c.obsMu.Lock()
	if c.observer != nil {
		c.observer.Failed(err)
		c.observer.Detach()
		c.observer = nil
	}
	c.obsMu.Unlock()
	close(c.finished)
}

// ============================================================================
//                              访问器
// ============================================================================

// ID 连接标识
func (c *Connection) ID() string { return c.id }

// Endpoint 连接所属端点
func (c *Connection) Endpoint() endpoint.Endpoint { return c.ep }

// Incoming 是否为入站连接
func (c *Connection) Incoming() bool { return c.incoming }

// RemoteAddr 远端地址
func (c *Connection) RemoteAddr() string { return c.tr.RemoteAddr().String() }

// LocalAddr 本地地址
func (c *Connection) LocalAddr() string { return c.tr.LocalAddr().String() }

// String 连接说明，用于跟踪
func (c *Connection) String() string {
	return fmt.Sprintf("%s connection local=%s remote=%s", c.tr.Protocol(), c.LocalAddr(), c.RemoteAddr())
}

// State 当前状态
func (c *Connection) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active 是否可用于新请求
func (c *Connection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == types.ConnectionStateActive && !c.closing
}

// Busy 是否有未完成的调用或分派
func (c *Connection) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0 || c.dispatching > 0
}

// LastActivity 最近一次读写时间
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// CloseReason 关闭原因，未关闭时为 nil
func (c *Connection) CloseReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Connection) touch() {
	c.lastActivity.Store(c.cfg.Clock.Now().UnixNano())
}

// ============================================================================
//                              出站调用
// ============================================================================

// Invoke 发送请求
//
// twoway 为 false 时不等待应答。sent 表示请求是否已写入传输，
// 调用方据此判断非幂等请求能否重试。
func (c *Connection) Invoke(ctx context.Context, req *protocol.Request, twoway bool) (reply *protocol.Reply, sent bool, err error) {
	var (
		id int32
		ch chan result
	)

	c.mu.Lock()
	if c.closing || c.state != types.ConnectionStateActive {
		err := c.closeErrLocked()
		c.mu.Unlock()
		return nil, false, err
	}
	if twoway {
		c.nextID++
		if c.nextID <= 0 {
			c.nextID = 1
		}
		id = c.nextID
		ch = make(chan result, 1)
		c.pending[id] = ch
	}
	c.mu.Unlock()

	req.RequestID = id
	msg := &protocol.Message{Type: protocol.MsgRequest, Body: req.Marshal()}
	if max := c.cfg.MessageSizeMax; max > 0 && msg.Size() > max {
		c.removePending(id)
		return nil, false, fmt.Errorf("%w: request of %d bytes exceeds %d", types.ErrMemoryLimit, msg.Size(), max)
	}
	if err := c.send(msg); err != nil {
		c.removePending(id)
		lost := fmt.Errorf("%w: %v", types.ErrConnectionLost, err)
		c.closeWith(lost, false)
		return nil, false, c.CloseReason()
	}
	if !twoway {
		return nil, true, nil
	}

	select {
	case r := <-ch:
		return r.reply, true, r.err
	case <-ctx.Done():
		c.removePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, true, types.ErrInvocationTimeout
		}
		return nil, true, fmt.Errorf("%w: %v", types.ErrInvocationCanceled, ctx.Err())
	}
}

func (c *Connection) removePending(id int32) {
	if id == 0 {
		return
	}
	c.mu.Lock()
	delete(c.pending, id)
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Connection) closeErrLocked() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return types.ErrConnectionLost
}

func (c *Connection) send(msg *protocol.Message) error {
	c.writeMu.Lock()
	n, err := protocol.WriteMessage(c.tr, msg)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}
	c.touch()
	c.sentBytes(n)
	return nil
}

// ============================================================================
//                              读循环与分派
// ============================================================================

func (c *Connection) readLoop() {
	defer c.finish()
	for {
		msg, err := protocol.ReadMessage(c.tr, c.cfg.MessageSizeMax)
		if err != nil {
			c.closeWith(c.readError(err), false)
			return
		}
		c.touch()
		c.receivedBytes(msg.Size())

		switch msg.Type {
		case protocol.MsgReply:
			rep, err := protocol.UnmarshalReply(msg.Body)
			if err != nil {
				c.closeWith(err, false)
				return
			}
			c.deliver(rep)
		case protocol.MsgRequest:
			req, err := protocol.UnmarshalRequest(msg.Body)
			if err != nil {
				c.closeWith(err, false)
				return
			}
			c.handleRequest(req)
		case protocol.MsgCloseConnection:
			c.trace("received close connection")
			c.closeWith(types.ErrCloseConnection, false)
			return
		case protocol.MsgValidateConnection:
		default:
			c.closeWith(fmt.Errorf("%w: unexpected message type %s", types.ErrProtocol, msg.Type), false)
			return
		}
	}
}

func (c *Connection) readError(err error) error {
	switch {
	case errors.Is(err, types.ErrMemoryLimit), errors.Is(err, types.ErrProtocol):
		return err
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: peer closed the connection", types.ErrConnectionLost)
	default:
		return fmt.Errorf("%w: %v", types.ErrConnectionLost, err)
	}
}

func (c *Connection) deliver(rep *protocol.Reply) {
	c.mu.Lock()
	ch, ok := c.pending[rep.RequestID]
	if ok {
		delete(c.pending, rep.RequestID)
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	if ok {
		ch <- result{reply: rep}
	}
}

func (c *Connection) handleRequest(req *protocol.Request) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.dispatching++
	c.mu.Unlock()

	run := func() {
		defer c.dispatchDone()
		var reply *protocol.Reply
		if c.cfg.Dispatcher == nil {
			reply = &protocol.Reply{Status: protocol.ReplyObjectNotExist}
		} else {
			reply = c.cfg.Dispatcher.Dispatch(context.Background(), c, req)
		}
		c.sendReply(req, reply)
	}

	if c.cfg.Pool == nil {
		go run()
		return
	}
	if c.cfg.Pool.Serialize() {
		c.enqueueSerial(serialItem{req: req, run: run})
		return
	}
	if err := c.cfg.Pool.DispatchAs(types.ThreadStateInUseForUser, run); err != nil {
		c.rejectRequest(req, err)
	}
}

type serialItem struct {
	req *protocol.Request
	run func()
}

func (c *Connection) rejectRequest(req *protocol.Request, err error) {
	c.sendReply(req, &protocol.Reply{Status: protocol.ReplyUnknownException, Message: err.Error()})
	c.dispatchDone()
}

// enqueueSerial 排队请求；没有排空任务在运行时向线程池提交一个
func (c *Connection) enqueueSerial(item serialItem) {
	c.mu.Lock()
	c.serial = append(c.serial, item)
	if c.serialRunning {
		c.mu.Unlock()
		return
	}
	c.serialRunning = true
	c.mu.Unlock()

	err := c.cfg.Pool.DispatchAs(types.ThreadStateInUseForUser, c.drainSerial)
	if err == nil {
		return
	}
	c.mu.Lock()
	queued := c.serial
	c.serial = nil
	c.serialRunning = false
	c.mu.Unlock()
	for _, it := range queued {
		c.rejectRequest(it.req, err)
	}
}

func (c *Connection) drainSerial() {
	for {
		c.mu.Lock()
		if len(c.serial) == 0 {
			c.serialRunning = false
			c.mu.Unlock()
			return
		}
		item := c.serial[0]
		c.serial = c.serial[1:]
		c.mu.Unlock()
		item.run()
	}
}

func (c *Connection) sendReply(req *protocol.Request, reply *protocol.Reply) {
	if req.RequestID == 0 || reply == nil {
		return
	}
	reply.RequestID = req.RequestID
	msg := &protocol.Message{Type: protocol.MsgReply, Body: reply.Marshal()}
	if max := c.cfg.MessageSizeMax; max > 0 && msg.Size() > max {
		msg.Body = (&protocol.Reply{
			RequestID: req.RequestID,
			Status:    protocol.ReplyUnknownException,
			Message:   types.ErrMemoryLimit.Error(),
		}).Marshal()
	}
	if err := c.send(msg); err != nil {
		logger.Debug("发送应答失败", "conn", c.id, "error", err)
	}
}

func (c *Connection) dispatchDone() {
	c.mu.Lock()
	c.dispatching--
	c.cond.Broadcast()
	c.mu.Unlock()
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 由本地主动关闭
func (c *Connection) Close(mode CloseMode) {
	c.closeWith(types.ErrConnectionManuallyClosed, mode == CloseGracefully)
}

// CloseIdle 以空闲原因优雅关闭（ACM）
func (c *Connection) CloseIdle() {
	c.closeWith(types.ErrConnectionIdle, true)
}

// Destroy 以给定原因优雅关闭，用于工厂销毁与适配器停用
func (c *Connection) Destroy(reason error) {
	c.closeWith(reason, true)
}

// closeWith 关闭连接，第一次给出的原因生效
func (c *Connection) closeWith(reason error, graceful bool) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.closeErr = reason
	wasActive := c.state == types.ConnectionStateActive
	c.state = types.ConnectionStateClosing
	pending := c.pending
	c.pending = make(map[int32]chan result)
	c.cond.Broadcast()
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: reason}
	}
	c.updateObserver(types.ConnectionStateClosing)
	c.trace("closing: " + reason.Error())

	if !graceful || !wasActive {
		_ = c.tr.Close()
		return
	}
	go func() {
		c.mu.Lock()
		for c.dispatching > 0 {
			c.cond.Wait()
		}
		c.mu.Unlock()
		_ = c.tr.SetDeadline(time.Now().Add(closeTimeout))
		if err := c.send(&protocol.Message{Type: protocol.MsgCloseConnection}); err != nil {
			logger.Debug("发送关闭连接消息失败", "conn", c.id, "error", err)
		}
		_ = c.tr.Close()
	}()
}

// finish 读循环退出后收尾，等待分派结束后通知等待者
func (c *Connection) finish() {
	c.mu.Lock()
	for c.dispatching > 0 {
		c.cond.Wait()
	}
	c.state = types.ConnectionStateClosed
	callbacks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	c.obsMu.Lock()
	if c.observer != nil {
		c.observer.Detach()
		c.observer = nil
	}
	c.obsMu.Unlock()

	c.trace("closed")
	close(c.finished)
	for _, fn := range callbacks {
		fn(c)
	}
}

// OnClose 注册连接结束回调；已结束时立即调用
func (c *Connection) OnClose(fn func(*Connection)) {
	c.mu.Lock()
	if c.state != types.ConnectionStateClosed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(c)
}

// WaitUntilFinished 阻塞直到连接完全关闭
func (c *Connection) WaitUntilFinished() {
	<-c.finished
}

// Done 连接完全关闭时关闭的 channel
func (c *Connection) Done() <-chan struct{} {
	return c.finished
}

// ============================================================================
//                              插桩与跟踪
// ============================================================================

// UpdateObserver 重新获取连接观察者
func (c *Connection) UpdateObserver() {
	c.updateObserver(c.State())
}

func (c *Connection) updateObserver(state types.ConnectionState) {
	obsv := c.cfg.Observer
	if obsv == nil {
		return
	}
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	if state == types.ConnectionStateClosed {
		return
	}
	old := c.observer
	o := obsv.ConnectionObserver(c.ep.String(), c.id, state, old)
	if o != old {
		if old != nil {
			old.Detach()
		}
		if o != nil {
			o.Attach()
		}
	}
	c.observer = o
}

func (c *Connection) sentBytes(n int) {
	c.obsMu.Lock()
	if c.observer != nil {
		c.observer.SentBytes(n)
	}
	c.obsMu.Unlock()
}

func (c *Connection) receivedBytes(n int) {
	c.obsMu.Lock()
	if c.observer != nil {
		c.observer.ReceivedBytes(n)
	}
	c.obsMu.Unlock()
}

func (c *Connection) trace(msg string) {
	if c.cfg.Logger == nil || c.cfg.Traces.Network < 1 {
		return
	}
	dir := "outgoing"
	if c.incoming {
		dir = "incoming"
	}
	c.cfg.Logger.Trace(tracelevels.NetworkCat, fmt.Sprintf("%s %s\n%s", dir, msg, c))
}
