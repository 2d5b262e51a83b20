package transport

import "errors"

var (
	// ErrTransportClosed 传输已关闭
	ErrTransportClosed = errors.New("transport closed")

	// ErrAcceptorClosed 接受器已关闭
	ErrAcceptorClosed = errors.New("acceptor closed")

	// ErrTLSNotConfigured 安全传输缺少 TLS 配置
	ErrTLSNotConfigured = errors.New("TLS is not configured")
)
