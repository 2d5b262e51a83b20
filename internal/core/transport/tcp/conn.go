package tcp

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-commrt/internal/core/transport"
)

// 确保实现了接口
var _ transport.Transceiver = (*Conn)(nil)

// Conn TCP（或 TLS over TCP）连接
type Conn struct {
	conn     net.Conn
	protocol string
	closed   atomic.Bool
}

// newConn 包装已建立的连接
func newConn(c net.Conn, protocol string) *Conn {
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	return &Conn{conn: c, protocol: protocol}
}

// Read 读取数据
func (c *Conn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write 写入数据
func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close 关闭连接，重复调用返回 nil
func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.conn.Close()
	}
	return nil
}

// LocalAddr 本地地址
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr 远端地址
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Protocol 协议名
func (c *Conn) Protocol() string {
	return c.protocol
}

// SetDeadline 设置读写截止时间
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

