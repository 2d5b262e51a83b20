package endpoint

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/dep2p/go-commrt/internal/core/transport"
)

// Endpoint 一个可连接或可监听的网络端点
//
// 端点不可变，WithHost / WithPort 等返回副本。
type Endpoint interface {
	// Protocol 协议名
	Protocol() string

	// Host 主机，空字符串或 "*" 表示任意地址
	Host() string

	// Port 端口，0 表示监听时由系统分配
	Port() int

	// Timeout 连接超时，负数表示无限
	Timeout() time.Duration

	// Compress 是否请求压缩
	Compress() bool

	// Secure 是否为安全传输
	Secure() bool

	// Resource WebSocket 资源路径
	Resource() string

	// String 规范字符串形式
	String() string

	// Equal 判断两个端点是否相同
	Equal(other Endpoint) bool

	// WithHost 返回替换主机后的副本
	WithHost(host string) Endpoint

	// WithPort 返回替换端口后的副本
	WithPort(port int) Endpoint

	// WithTimeout 返回替换超时后的副本
	WithTimeout(d time.Duration) Endpoint

	// Dial 连接已解析的地址
	Dial(ctx context.Context, addr netip.AddrPort) (transport.Transceiver, error)

	// Listen 在端点上监听，返回接受器与带实际端口的端点
	Listen() (transport.Acceptor, Endpoint, error)
}

// ipEndpoint 基于 IP 的端点（tcp、ssl、ws、wss）
type ipEndpoint struct {
	factory  *ipFactory
	host     string
	port     int
	timeout  time.Duration
	compress bool
	resource string
}

var _ Endpoint = (*ipEndpoint)(nil)

func (e *ipEndpoint) Protocol() string       { return e.factory.protocol }
func (e *ipEndpoint) Host() string           { return e.host }
func (e *ipEndpoint) Port() int              { return e.port }
func (e *ipEndpoint) Timeout() time.Duration { return e.timeout }
func (e *ipEndpoint) Compress() bool         { return e.compress }
func (e *ipEndpoint) Secure() bool           { return e.factory.secure }
func (e *ipEndpoint) Resource() string       { return e.resource }

// String 规范字符串形式
func (e *ipEndpoint) String() string {
	var b strings.Builder
	b.WriteString(e.factory.protocol)
	if e.host != "" {
		b.WriteString(" -h ")
		b.WriteString(quoteHost(e.host))
	}
	b.WriteString(" -p ")
	b.WriteString(strconv.Itoa(e.port))
	if e.timeout < 0 {
		b.WriteString(" -t infinite")
	} else {
		b.WriteString(" -t ")
		b.WriteString(strconv.FormatInt(e.timeout.Milliseconds(), 10))
	}
	if e.compress {
		b.WriteString(" -z")
	}
	if e.factory.websocket && e.resource != "" && e.resource != "/" {
		b.WriteString(" -r ")
		b.WriteString(e.resource)
	}
	return b.String()
}

// Equal 判断两个端点是否相同
func (e *ipEndpoint) Equal(other Endpoint) bool {
	if other == nil {
		return false
	}
	return e.String() == other.String()
}

func (e *ipEndpoint) clone() *ipEndpoint {
	c := *e
	return &c
}

// WithHost 返回替换主机后的副本
func (e *ipEndpoint) WithHost(host string) Endpoint {
	c := e.clone()
	c.host = host
	return c
}

// WithPort 返回替换端口后的副本
func (e *ipEndpoint) WithPort(port int) Endpoint {
	c := e.clone()
	c.port = port
	return c
}

// WithTimeout 返回替换超时后的副本
func (e *ipEndpoint) WithTimeout(d time.Duration) Endpoint {
	c := e.clone()
	if d < 0 {
		d = -1
	}
	c.timeout = d
	return c
}

// Dial 通过所属传输连接 addr
func (e *ipEndpoint) Dial(ctx context.Context, addr netip.AddrPort) (transport.Transceiver, error) {
	opts := transport.DialOptions{Resource: e.resource, Host: e.host}
	if e.timeout > 0 {
		opts.Timeout = e.timeout
	}
	if e.factory.secure {
		cfg, err := e.factory.engine.ClientConfig(e.host)
		if err != nil {
			return nil, err
		}
		opts.TLS = cfg
	}
	return e.factory.transport.Dial(ctx, addr.String(), opts)
}

// Listen 在端点上监听
func (e *ipEndpoint) Listen() (transport.Acceptor, Endpoint, error) {
	opts := transport.ListenOptions{Resource: e.resource}
	if e.factory.secure {
		cfg, err := e.factory.engine.ServerConfig()
		if err != nil {
			return nil, nil, err
		}
		opts.TLS = cfg
	}
	host := e.host
	if host == "*" {
		host = ""
	}
	acc, err := e.factory.transport.Listen(net.JoinHostPort(host, strconv.Itoa(e.port)), opts)
	if err != nil {
		return nil, nil, err
	}
	bound := e.clone()
	if tcp, ok := acc.Addr().(*net.TCPAddr); ok {
		bound.port = tcp.Port
	}
	return acc, bound, nil
}

func quoteHost(h string) string {
	if strings.ContainsAny(h, ": \t") {
		return `"` + h + `"`
	}
	return h
}
