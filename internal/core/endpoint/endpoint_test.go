package endpoint

import (
	"context"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/internal/core/ssl"
	"github.com/dep2p/go-commrt/pkg/types"
)

func newManager(t *testing.T) *FactoryManager {
	m := NewFactoryManager(Defaults{Protocol: "tcp", Timeout: time.Minute}, nil)
	t.Cleanup(m.Destroy)
	return m
}

// TestParse_RoundTrip 测试端点解析与格式化
func TestParse_RoundTrip(t *testing.T) {
	m := newManager(t)

	tests := []struct {
		in  string
		out string
	}{
		{"tcp -h 127.0.0.1 -p 4061", "tcp -h 127.0.0.1 -p 4061 -t 60000"},
		{"default -p 10 -t 500 -z", "tcp -p 10 -t 500 -z"},
		{`ssl -h "::1" -p 1 -t infinite`, `ssl -h "::1" -p 1 -t infinite`},
		{"ws -h localhost -p 8080 -r /rt", "ws -h localhost -p 8080 -t 60000 -r /rt"},
		{"wss -h localhost -p 443", "wss -h localhost -p 443 -t 60000"},
	}
	for _, tt := range tests {
		ep, err := m.Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.out, ep.String())

		again, err := m.Parse(ep.String())
		require.NoError(t, err)
		assert.True(t, ep.Equal(again))
	}

	t.Log("✅ 端点解析与格式化正确")
}

// TestParse_Errors 测试非法端点
func TestParse_Errors(t *testing.T) {
	m := newManager(t)

	for _, s := range []string{
		"",
		"udp -h x",
		"tcp -p 70000",
		"tcp -p",
		"tcp -t 0",
		"tcp -x",
		"tcp -r /x",
		`tcp -h "open`,
	} {
		_, err := m.Parse(s)
		assert.ErrorIs(t, err, types.ErrEndpointParse, s)
	}
}

// TestParseList 测试端点列表
func TestParseList(t *testing.T) {
	m := newManager(t)

	eps, err := m.ParseList(`tcp -h "::1" -p 1:ws -h 127.0.0.1 -p 2`)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "::1", eps[0].Host())
	assert.Equal(t, "ws", eps[1].Protocol())

	_, err = m.ParseList("tcp -p 1::tcp -p 2")
	assert.ErrorIs(t, err, types.ErrEndpointParse)

	eps, err = m.ParseList("  ")
	require.NoError(t, err)
	assert.Empty(t, eps)
}

// TestFactoryManager_DuplicateAndDestroy 测试重复注册与销毁
func TestFactoryManager_DuplicateAndDestroy(t *testing.T) {
	m := NewFactoryManager(Defaults{Protocol: "tcp"}, nil)
	assert.ErrorIs(t, m.Add(NewTCPFactory(false, nil)), types.ErrAlreadyRegistered)
	assert.Equal(t, []string{"tcp", "ssl", "ws", "wss"}, m.Protocols())

	m.Destroy()
	m.Destroy()
	_, err := m.Parse("tcp -p 1")
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
}

// TestEndpoint_ListenAndDial 测试通过端点监听与拨号
func TestEndpoint_ListenAndDial(t *testing.T) {
	m := newManager(t)
	ep, err := m.Parse("tcp -h 127.0.0.1 -p 0")
	require.NoError(t, err)

	acc, bound, err := ep.Listen()
	require.NoError(t, err)
	defer acc.Close()
	assert.NotZero(t, bound.Port())

	go func() {
		c, err := acc.Accept()
		if err == nil {
			_, _ = c.Write([]byte("ok"))
		}
	}()

	addr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(bound.Port()))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := bound.Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 2)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
}

// TestEndpoint_SecureWithoutEngine 测试未配置 TLS 的 ssl 端点
func TestEndpoint_SecureWithoutEngine(t *testing.T) {
	m := newManager(t)
	ep, err := m.Parse("ssl -h 127.0.0.1 -p 0")
	require.NoError(t, err)

	_, _, err = ep.Listen()
	assert.ErrorIs(t, err, ssl.ErrNotConfigured)
}

// TestEndpoint_SSLHandshake 测试 ssl 端点握手
func TestEndpoint_SSLHandshake(t *testing.T) {
	cert, pool, err := ssl.GenerateSelfSigned("127.0.0.1")
	require.NoError(t, err)
	engine, err := ssl.NewEngine(ssl.Config{Certificate: cert, RootCAs: pool, VerifyPeer: 1})
	require.NoError(t, err)

	m := NewFactoryManager(Defaults{Protocol: "tcp", Timeout: time.Minute}, engine)
	defer m.Destroy()

	ep, err := m.Parse("ssl -h 127.0.0.1 -p 0")
	require.NoError(t, err)
	acc, bound, err := ep.Listen()
	require.NoError(t, err)

	go func() {
		c, err := acc.Accept()
		if err == nil {
			_, _ = c.Write([]byte("tls"))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addr := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(bound.Port()))
	c, err := bound.Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 3)
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "tls", string(buf))
	assert.Equal(t, "ssl", c.Protocol())

	t.Log("✅ ssl 端点握手成功")
}
