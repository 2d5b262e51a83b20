package resolver

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/pkg/types"
)

func staticLookup(calls *atomic.Int32, addrs ...string) LookupFunc {
	return func(_ context.Context, _ string) ([]netip.Addr, error) {
		calls.Add(1)
		out := make([]netip.Addr, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, netip.MustParseAddr(a))
		}
		return out, nil
	}
}

// TestResolver_NumericBypassesQueue 测试数字地址不进入解析队列
func TestResolver_NumericBypassesQueue(t *testing.T) {
	var calls atomic.Int32
	r := New(config.DefaultNetworkConfig(), WithLookup(staticLookup(&calls)))
	defer func() {
		r.Destroy()
		r.Join()
	}()

	addrs, err := r.Resolve(context.Background(), "127.0.0.1", 4061)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "127.0.0.1:4061", HostPort(addrs[0]))
	assert.Equal(t, int32(0), calls.Load())

	addrs, err = r.Resolve(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, addrs, 2)
}

// TestResolver_FamilyFilter 测试 IPv4 / IPv6 过滤与排序
func TestResolver_FamilyFilter(t *testing.T) {
	var calls atomic.Int32
	cfg := config.DefaultNetworkConfig()
	cfg.IPv6 = false
	r := New(cfg, WithLookup(staticLookup(&calls, "::1", "10.0.0.1")))
	defer func() {
		r.Destroy()
		r.Join()
	}()

	_, err := r.Resolve(context.Background(), "::1", 1)
	assert.ErrorIs(t, err, types.ErrDNS)

	addrs, err := r.Resolve(context.Background(), "host.example", 1)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, "10.0.0.1", addrs[0].Addr().String())

	cfg = config.DefaultNetworkConfig()
	cfg.PreferIPv6 = true
	r6 := New(cfg, WithLookup(staticLookup(&calls, "10.0.0.1", "::1")))
	defer func() {
		r6.Destroy()
		r6.Join()
	}()
	addrs, err = r6.Resolve(context.Background(), "host.example", 1)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.True(t, addrs[0].Addr().Is6())
}

// TestResolver_Cache 测试解析结果缓存
func TestResolver_Cache(t *testing.T) {
	var calls atomic.Int32
	r := New(config.DefaultNetworkConfig(), WithLookup(staticLookup(&calls, "10.1.2.3")))
	defer func() {
		r.Destroy()
		r.Join()
	}()

	for i := 0; i < 3; i++ {
		addrs, err := r.Resolve(context.Background(), "cached.example", 80+i)
		require.NoError(t, err)
		assert.Equal(t, uint16(80+i), addrs[0].Port())
	}
	assert.Equal(t, int32(1), calls.Load())

	t.Log("✅ 解析结果被缓存")
}

// TestResolver_LookupError 测试解析失败映射为 ErrDNS
func TestResolver_LookupError(t *testing.T) {
	r := New(config.DefaultNetworkConfig(), WithLookup(func(context.Context, string) ([]netip.Addr, error) {
		return nil, errors.New("no such host")
	}))
	defer func() {
		r.Destroy()
		r.Join()
	}()

	_, err := r.Resolve(context.Background(), "missing.example", 1)
	assert.ErrorIs(t, err, types.ErrDNS)
	assert.True(t, types.IsRetryable(err))
}

// TestResolver_DestroyFailsQueued 测试销毁时排队请求失败
func TestResolver_DestroyFailsQueued(t *testing.T) {
	entered := make(chan struct{}, 1)
	unblock := make(chan struct{})
	r := New(config.DefaultNetworkConfig(), WithLookup(func(context.Context, string) ([]netip.Addr, error) {
		entered <- struct{}{}
		<-unblock
		return []netip.Addr{netip.MustParseAddr("10.0.0.9")}, nil
	}))

	first := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "slow.example", 1)
		first <- err
	}()
	<-entered

	second := make(chan error, 1)
	go func() {
		_, err := r.Resolve(context.Background(), "queued.example", 1)
		second <- err
	}()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.queue) == 1
	}, time.Second, time.Millisecond)

	r.Destroy()
	assert.ErrorIs(t, <-second, types.ErrCommunicatorDestroyed)

	close(unblock)
	assert.NoError(t, <-first)
	r.Join()

	_, err := r.Resolve(context.Background(), "after.example", 1)
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)

	t.Log("✅ 销毁时排队请求以 communicator destroyed 失败")
}
