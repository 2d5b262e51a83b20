// Package tcp 实现 tcp 与 ssl 传输
//
// ssl 传输在 TCP 连接上完成 TLS 握手后再交给连接层，
// 握手在 Dial / Accept 返回前完成。
//
// # 使用示例
//
//	t := tcp.NewTransport(false)
//
//	// 监听
//	acc, err := t.Listen("0.0.0.0:4061", transport.ListenOptions{})
//
//	// 拨号
//	conn, err := t.Dial(ctx, "10.0.0.1:4061", transport.DialOptions{Timeout: 5 * time.Second})
package tcp
