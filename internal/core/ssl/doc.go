// Package ssl 提供 ssl / wss 端点使用的 TLS 引擎
//
// 引擎在实例构造阶段根据 IceSSL.* 属性创建：
//
//	IceSSL.DefaultDir   相对路径的基准目录
//	IceSSL.CertFile     PEM 证书（链）
//	IceSSL.KeyFile      PEM 私钥
//	IceSSL.CAs          受信任的 CA 证书（PEM）
//	IceSSL.VerifyPeer   0 不验证，1 验证对端（服务端可选客户端证书），2 服务端要求客户端证书
//
// 未配置证书时引擎仍可用于客户端（使用系统根证书），
// 服务端配置在没有证书时返回 ErrNoCertificate。
package ssl
