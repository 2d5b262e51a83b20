package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"
)

// Transceiver 已建立的流式连接
type Transceiver interface {
	io.ReadWriteCloser

	// LocalAddr 本地地址
	LocalAddr() net.Addr

	// RemoteAddr 远端地址
	RemoteAddr() net.Addr

	// Protocol 协议名（tcp、ssl、ws、wss）
	Protocol() string

	// SetDeadline 设置读写截止时间
	SetDeadline(t time.Time) error
}

// Acceptor 监听并接受入站连接
type Acceptor interface {
	// Accept 阻塞直到有新连接或接受器关闭
	Accept() (Transceiver, error)

	// Addr 实际监听地址（端口 0 时为分配的端口）
	Addr() net.Addr

	// Close 关闭接受器
	Close() error
}

// DialOptions 拨号选项
type DialOptions struct {
	// Timeout 连接建立超时，<= 0 表示只受 ctx 约束
	Timeout time.Duration

	// TLS 安全传输的客户端配置
	TLS *tls.Config

	// Resource WebSocket 资源路径
	Resource string

	// Host WebSocket 握手使用的主机名
	Host string
}

// ListenOptions 监听选项
type ListenOptions struct {
	// TLS 安全传输的服务端配置
	TLS *tls.Config

	// Resource WebSocket 资源路径
	Resource string
}

// Transport 一种传输协议
type Transport interface {
	// Protocol 协议名
	Protocol() string

	// Dial 连接 addr（host:port）
	Dial(ctx context.Context, addr string, opts DialOptions) (Transceiver, error)

	// Listen 在 addr（host:port）上监听
	Listen(addr string, opts ListenOptions) (Acceptor, error)

	// Close 关闭所有监听器
	Close() error
}
