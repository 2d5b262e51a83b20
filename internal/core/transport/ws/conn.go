package ws

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-commrt/internal/core/transport"
)

var _ transport.Transceiver = (*Conn)(nil)

// Conn WebSocket 字节流连接
type Conn struct {
	ws       *websocket.Conn
	protocol string

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex

	closed atomic.Bool
}

func newConn(c *websocket.Conn, protocol string) *Conn {
	return &Conn{ws: c, protocol: protocol}
}

// Read 读取数据，跨消息边界连续读取
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write 以一条二进制消息写出 p
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 发送关闭帧后关闭底层连接
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// LocalAddr 本地地址
func (c *Conn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr 远端地址
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Protocol 协议名
func (c *Conn) Protocol() string {
	return c.protocol
}

// SetDeadline 设置读写截止时间
func (c *Conn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
