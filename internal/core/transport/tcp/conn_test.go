package tcp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/internal/core/transport"
)

// TestTransport_DialAccept 测试 TCP 拨号与接受
func TestTransport_DialAccept(t *testing.T) {
	tr := NewTransport(false)
	defer tr.Close()

	acc, err := tr.Listen("127.0.0.1:0", transport.ListenOptions{})
	require.NoError(t, err)

	accepted := make(chan transport.Transceiver, 1)
	go func() {
		c, err := acc.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := tr.Dial(ctx, acc.Addr().String(), transport.DialOptions{Timeout: time.Second})
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)

	assert.Equal(t, "ping", string(buf))
	assert.Equal(t, "tcp", client.Protocol())
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())

	t.Log("✅ TCP 拨号与接受测试通过")
}

// TestTransport_SecureRequiresTLS 测试 ssl 缺少 TLS 配置
func TestTransport_SecureRequiresTLS(t *testing.T) {
	tr := NewTransport(true)
	_, err := tr.Listen("127.0.0.1:0", transport.ListenOptions{})
	assert.ErrorIs(t, err, transport.ErrTLSNotConfigured)

	_, err = tr.Dial(context.Background(), "127.0.0.1:1", transport.DialOptions{})
	assert.ErrorIs(t, err, transport.ErrTLSNotConfigured)
}

// TestTransport_CloseStopsAccept 测试关闭传输后 Accept 返回
func TestTransport_CloseStopsAccept(t *testing.T) {
	tr := NewTransport(false)
	acc, err := tr.Listen("127.0.0.1:0", transport.ListenOptions{})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := acc.Accept()
		errCh <- err
	}()

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, <-errCh, transport.ErrAcceptorClosed)

	_, err = tr.Listen("127.0.0.1:0", transport.ListenOptions{})
	assert.ErrorIs(t, err, transport.ErrTransportClosed)
}
