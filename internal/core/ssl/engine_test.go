package ssl

import (
	"crypto/tls"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/pkg/types"
)

// TestEngine_NilSafe 测试未配置引擎
func TestEngine_NilSafe(t *testing.T) {
	var e *Engine
	_, err := e.ClientConfig("host")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = e.ServerConfig()
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, e.HasCertificate())
}

// TestEngine_ServerRequiresCertificate 测试服务端缺少证书
func TestEngine_ServerRequiresCertificate(t *testing.T) {
	e, err := NewEngine(Config{VerifyPeer: 2})
	require.NoError(t, err)
	_, err = e.ServerConfig()
	assert.ErrorIs(t, err, ErrNoCertificate)
}

// TestEngine_VerifyPeerLevels 测试 VerifyPeer 映射
func TestEngine_VerifyPeerLevels(t *testing.T) {
	cert, pool, err := GenerateSelfSigned("127.0.0.1")
	require.NoError(t, err)

	tests := []struct {
		level int
		auth  tls.ClientAuthType
		skip  bool
	}{
		{0, tls.NoClientCert, true},
		{1, tls.VerifyClientCertIfGiven, false},
		{2, tls.RequireAndVerifyClientCert, false},
	}
	for _, tt := range tests {
		e, err := NewEngine(Config{Certificate: cert, RootCAs: pool, VerifyPeer: tt.level})
		require.NoError(t, err)

		srv, err := e.ServerConfig()
		require.NoError(t, err)
		assert.Equal(t, tt.auth, srv.ClientAuth)

		cli, err := e.ClientConfig("127.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, tt.skip, cli.InsecureSkipVerify)
		assert.Len(t, cli.Certificates, 1)
	}
}

// TestNewEngine_MissingFiles 测试证书文件不存在
func TestNewEngine_MissingFiles(t *testing.T) {
	props := properties.NewFromMap(map[string]string{
		"IceSSL.DefaultDir": t.TempDir(),
		"IceSSL.CertFile":   "server.pem",
	})
	_, err := NewEngine(ConfigFromProperties(props))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInitialization))
}
