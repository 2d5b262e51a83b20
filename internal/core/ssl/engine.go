package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/lib/log"
	"github.com/dep2p/go-commrt/pkg/types"
)

var logger = log.Logger("core/ssl")

// Config TLS 引擎配置
type Config struct {
	// CertFile PEM 证书路径
	CertFile string
	// KeyFile PEM 私钥路径
	KeyFile string
	// CAs 受信任 CA 的 PEM 文件路径
	CAs string
	// VerifyPeer 对端验证级别（0、1、2）
	VerifyPeer int

	// Certificate 直接提供的证书，优先于 CertFile
	Certificate *tls.Certificate
	// RootCAs 直接提供的受信任 CA，优先于 CAs
	RootCAs *x509.CertPool
}

// ConfigFromProperties 读取 IceSSL.* 属性
func ConfigFromProperties(props interfaces.PropertiesReader) Config {
	dir := props.Get("IceSSL.DefaultDir")
	resolve := func(p string) string {
		if p == "" || dir == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	return Config{
		CertFile:   resolve(props.Get("IceSSL.CertFile")),
		KeyFile:    resolve(props.Get("IceSSL.KeyFile")),
		CAs:        resolve(props.Get("IceSSL.CAs")),
		VerifyPeer: props.GetAsIntWithDefault("IceSSL.VerifyPeer", 2),
	}
}

// Engine TLS 引擎
//
// 构造后不可变；nil *Engine 的所有方法返回 ErrNotConfigured。
type Engine struct {
	cert       *tls.Certificate
	roots      *x509.CertPool
	verifyPeer int
}

// NewEngine 根据配置加载证书与 CA
func NewEngine(cfg Config) (*Engine, error) {
	e := &Engine{cert: cfg.Certificate, roots: cfg.RootCAs, verifyPeer: cfg.VerifyPeer}

	if e.cert == nil && cfg.CertFile != "" {
		keyFile := cfg.KeyFile
		if keyFile == "" {
			keyFile = cfg.CertFile
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, keyFile)
		if err != nil {
			return nil, types.NewInitializationError("IceSSL: unable to load certificate %s: %v", cfg.CertFile, err)
		}
		e.cert = &cert
	}

	if e.roots == nil && cfg.CAs != "" {
		pem, err := os.ReadFile(cfg.CAs)
		if err != nil {
			return nil, types.NewInitializationError("IceSSL: unable to read CAs %s: %v", cfg.CAs, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCAs, cfg.CAs)
		}
		e.roots = pool
	}

	logger.Debug("TLS engine created",
		"certificate", e.cert != nil,
		"customCAs", e.roots != nil,
		"verifyPeer", e.verifyPeer)
	return e, nil
}

// HasCertificate 是否配置了本地证书
func (e *Engine) HasCertificate() bool {
	return e != nil && e.cert != nil
}

// ClientConfig 构建客户端 TLS 配置
func (e *Engine) ClientConfig(serverName string) (*tls.Config, error) {
	if e == nil {
		return nil, ErrNotConfigured
	}
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    e.roots,
		ServerName: serverName,
		// VerifyPeer=0 时不校验服务端证书
		InsecureSkipVerify: e.verifyPeer == 0, //nolint:gosec // G402: 由 IceSSL.VerifyPeer 控制
	}
	if e.cert != nil {
		cfg.Certificates = []tls.Certificate{*e.cert}
	}
	return cfg, nil
}

// ServerConfig 构建服务端 TLS 配置
func (e *Engine) ServerConfig() (*tls.Config, error) {
	if e == nil {
		return nil, ErrNotConfigured
	}
	if e.cert == nil {
		return nil, ErrNoCertificate
	}
	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{*e.cert},
		ClientCAs:    e.roots,
	}
	switch {
	case e.verifyPeer <= 0:
		cfg.ClientAuth = tls.NoClientCert
	case e.verifyPeer == 1:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}
