// Package transport 定义流式传输抽象
//
// 端点（tcp、ssl、ws、wss）通过各自的传输建立 Transceiver，
// 连接层只依赖本包的接口，不关心底层协议。
//
// # 支持的传输协议
//
//   - tcp:  明文 TCP
//   - ssl:  TCP + TLS（crypto/tls）
//   - ws:   WebSocket（gorilla/websocket）
//   - wss:  WebSocket over TLS
//
// # 使用示例
//
//	t := tcp.NewTransport(false)
//	acc, err := t.Listen("127.0.0.1:0", nil)
//	conn, err := t.Dial(ctx, acc.Addr().String(), transport.DialOptions{Timeout: time.Second})
package transport
