package endpoint

import (
	"github.com/dep2p/go-commrt/internal/core/ssl"
	"github.com/dep2p/go-commrt/internal/core/transport"
	"github.com/dep2p/go-commrt/internal/core/transport/tcp"
	"github.com/dep2p/go-commrt/internal/core/transport/ws"
)

// Factory 单个协议的端点工厂
type Factory interface {
	// Protocol 协议名
	Protocol() string

	// Secure 是否为安全传输
	Secure() bool

	// Create 由端点参数（不含协议名）创建端点
	Create(args []string, defaults Defaults) (Endpoint, error)

	// Destroy 关闭传输
	Destroy()
}

// ipFactory tcp / ssl / ws / wss 的工厂
type ipFactory struct {
	protocol  string
	secure    bool
	websocket bool
	transport transport.Transport
	engine    *ssl.Engine
}

// NewTCPFactory 创建 tcp（secure 时为 ssl）工厂
func NewTCPFactory(secure bool, engine *ssl.Engine) Factory {
	t := tcp.NewTransport(secure)
	return &ipFactory{protocol: t.Protocol(), secure: secure, transport: t, engine: engine}
}

// NewWSFactory 创建 ws（secure 时为 wss）工厂
func NewWSFactory(secure bool, engine *ssl.Engine) Factory {
	t := ws.NewTransport(secure)
	return &ipFactory{protocol: t.Protocol(), secure: secure, websocket: true, transport: t, engine: engine}
}

func (f *ipFactory) Protocol() string { return f.protocol }
func (f *ipFactory) Secure() bool     { return f.secure }

// Create 由参数创建端点
func (f *ipFactory) Create(args []string, defaults Defaults) (Endpoint, error) {
	o, err := parseOptions(f.protocol, args, f.websocket, options{timeout: defaults.Timeout})
	if err != nil {
		return nil, err
	}
	if !o.hostSet {
		o.host = defaults.Host
	}
	if f.websocket && o.resource == "" {
		o.resource = "/"
	}
	return &ipEndpoint{
		factory:  f,
		host:     o.host,
		port:     o.port,
		timeout:  o.timeout,
		compress: o.compress,
		resource: o.resource,
	}, nil
}

// Destroy 关闭传输及其监听器
func (f *ipFactory) Destroy() {
	_ = f.transport.Close()
}
