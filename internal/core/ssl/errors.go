package ssl

import "errors"

var (
	// ErrNoCertificate 服务端未配置证书
	ErrNoCertificate = errors.New("ssl: no certificate configured")

	// ErrNotConfigured 未创建 TLS 引擎
	ErrNotConfigured = errors.New("ssl: engine not configured")

	// ErrInvalidCAs CA 文件中没有可用证书
	ErrInvalidCAs = errors.New("ssl: no certificates found in CA file")
)
