package invocation

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/adapter"
	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/implicitctx"
	"github.com/dep2p/go-commrt/internal/core/locator"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/internal/core/resolver"
	"github.com/dep2p/go-commrt/internal/core/retry"
	"github.com/dep2p/go-commrt/internal/core/threadpool"
	"github.com/dep2p/go-commrt/internal/core/timer"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// countingObserver 只观察调用
type countingObserver struct {
	retried atomic.Int32
	failed  atomic.Int32
	user    atomic.Int32
}

func (o *countingObserver) ConnectionEstablishmentObserver(string) interfaces.Observer { return nil }
func (o *countingObserver) ThreadObserver(string, string, types.ThreadState, interfaces.ThreadObserver) interfaces.ThreadObserver {
	return nil
}
func (o *countingObserver) ConnectionObserver(string, string, types.ConnectionState, interfaces.ConnectionObserver) interfaces.ConnectionObserver {
	return nil
}
func (o *countingObserver) InvocationObserver(string, string) interfaces.InvocationObserver {
	return &invocationCounter{o: o}
}
func (o *countingObserver) DispatchObserver(string, string) interfaces.DispatchObserver { return nil }
func (o *countingObserver) SetObserverUpdater(interfaces.ObserverUpdater)               {}

type invocationCounter struct{ o *countingObserver }

func (c *invocationCounter) Attach()        {}
func (c *invocationCounter) Detach()        {}
func (c *invocationCounter) Failed(error)   { c.o.failed.Add(1) }
func (c *invocationCounter) Retried()       { c.o.retried.Add(1) }
func (c *invocationCounter) UserException() { c.o.user.Add(1) }

type testEnv struct {
	adapters *adapter.Factory
	refs     *reference.Factory
	out      *connection.OutgoingFactory
	queue    *retry.Queue
	observer *countingObserver
}

func newEnv(t *testing.T, props map[string]string) *testEnv {
	eps := endpoint.NewFactoryManager(endpoint.Defaults{Protocol: "tcp", Timeout: 2 * time.Second}, nil)
	refs := reference.NewFactory(eps, types.ToStringUnicode, config.DefaultDefaultsConfig())
	lcfg := locator.Config{Parser: refs}

	poolCfg := config.DefaultThreadPoolConfig()
	poolCfg.SizeMax = 4
	server := threadpool.New("Ice.ThreadPool.Server", poolCfg)
	client := threadpool.New("Ice.ThreadPool.Client", poolCfg)

	adapters := adapter.NewFactory(&adapter.Runtime{
		Properties: properties.NewFromMap(props),
		Endpoints:  eps,
		References: func() *reference.Factory { return refs },
		Locators:   locator.NewManager(lcfg),
		Routers:    locator.NewRouterManager(lcfg),
		ServerPool: func() (*threadpool.ThreadPool, error) { return server, nil },
	})

	r := resolver.New(config.DefaultNetworkConfig())
	out := connection.NewOutgoingFactory(connection.Config{}, r, nil)
	tm := timer.New()
	q := retry.NewQueue(tm, client)

	t.Cleanup(func() {
		adapters.Destroy()
		q.Destroy()
		out.Destroy()
		out.WaitUntilFinished()
		tm.Destroy()
		for _, p := range []*threadpool.ThreadPool{server, client} {
			p.Destroy()
			_ = p.JoinWithAllThreads()
		}
		r.Destroy()
		r.Join()
		eps.Destroy()
	})
	return &testEnv{adapters: adapters, refs: refs, out: out, queue: q, observer: &countingObserver{}}
}

func (e *testEnv) invoker(policy retry.Policy, collocated bool, ic implicitctx.ImplicitContext) *Invoker {
	rt := Runtime{
		References:      func() *reference.Factory { return e.refs },
		Connections:     func() (*connection.OutgoingFactory, error) { return e.out, nil },
		Locators:        func() (*locator.Manager, error) { return nil, types.ErrCommunicatorDestroyed },
		Routers:         func() (*locator.RouterManager, error) { return nil, types.ErrCommunicatorDestroyed },
		RetryQueue:      func() (*retry.Queue, error) { return e.queue, nil },
		Policy:          policy,
		ImplicitContext: ic,
		Observer:        e.observer,
	}
	if collocated {
		rt.Adapters = func() (*adapter.Factory, error) { return e.adapters, nil }
	}
	return New(rt)
}

func (e *testEnv) serve(t *testing.T, servant interfaces.Servant) (*adapter.ObjectAdapter, *reference.Reference) {
	a, err := e.adapters.Create("Echo", adapter.CreateOptions{Endpoints: "tcp -h 127.0.0.1 -p 0"})
	require.NoError(t, err)
	require.NoError(t, a.Add(servant, types.Identity{Name: "echo"}))
	require.NoError(t, a.Activate(context.Background()))
	prx, err := a.CreateProxy(types.Identity{Name: "echo"})
	require.NoError(t, err)
	return a, prx
}

func echoServant() interfaces.Servant {
	return interfaces.ServantFunc(func(_ context.Context, cur *interfaces.Current, params []byte) ([]byte, error) {
		switch cur.Operation {
		case "fail":
			return nil, &types.UserError{TypeID: "::Demo::Failed", Message: "requested"}
		case "context":
			return json.Marshal(cur.Context)
		}
		return append([]byte(cur.Operation+":"), params...), nil
	})
}

// closedPort 返回一个当前无人监听的本地端口
func closedPort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// TestInvoke_Remote 测试经网络的双向调用
func TestInvoke_Remote(t *testing.T) {
	env := newEnv(t, nil)
	_, prx := env.serve(t, echoServant())
	inv := env.invoker(retry.PolicyFromStrings([]string{"0"}), false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := inv.Invoke(ctx, prx, "say", types.ModeNormal, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "say:hi", string(out))
	assert.Len(t, env.out.Connections(), 1)

	_, err = inv.Invoke(ctx, prx, "fail", types.ModeNormal, nil)
	assert.True(t, types.IsUserError(err, "::Demo::Failed"))
	assert.EqualValues(t, 1, env.observer.user.Load())

	_, err = inv.Invoke(ctx, prx.WithIdentity(types.Identity{Name: "missing"}), "x", types.ModeNormal, nil)
	assert.ErrorIs(t, err, types.ErrObjectNotExist)

	out, err = inv.Invoke(ctx, prx.WithMode(reference.ModeOneway), "say", types.ModeNormal, nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	t.Log("✅ 远程调用正确")
}

// TestInvoke_Collocated 测试并置调用不建立连接
func TestInvoke_Collocated(t *testing.T) {
	env := newEnv(t, nil)
	_, prx := env.serve(t, echoServant())
	inv := env.invoker(retry.PolicyFromStrings([]string{"0"}), true, nil)

	out, err := inv.Invoke(context.Background(), prx, "say", types.ModeNormal, []byte("local"))
	require.NoError(t, err)
	assert.Equal(t, "say:local", string(out))
	assert.Empty(t, env.out.Connections())
}

// TestInvoke_RequestContext 测试请求上下文的合并顺序
func TestInvoke_RequestContext(t *testing.T) {
	env := newEnv(t, nil)
	_, prx := env.serve(t, echoServant())

	ic, err := implicitctx.Create(config.ImplicitContextShared)
	require.NoError(t, err)
	ic.Put(context.Background(), "implicit", "i")
	ic.Put(context.Background(), "shared", "from-implicit")

	inv := env.invoker(retry.PolicyFromStrings([]string{"0"}), true, ic)
	prx = prx.WithContext(map[string]string{"proxy": "p", "shared": "from-proxy"})

	ctx := WithRequestContext(context.Background(), map[string]string{"explicit": "e"})
	out, err := inv.Invoke(ctx, prx, "context", types.ModeNormal, nil)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, map[string]string{
		"implicit": "i",
		"proxy":    "p",
		"shared":   "from-proxy",
		"explicit": "e",
	}, got)
}

// TestInvoke_BoundedRetry 测试连接失败按重试间隔有限次重试
func TestInvoke_BoundedRetry(t *testing.T) {
	env := newEnv(t, nil)
	prx, err := env.refs.Parse("dead:tcp -h 127.0.0.1 -p " + strconv.Itoa(closedPort(t)) + " -t 1000")
	require.NoError(t, err)

	inv := env.invoker(retry.PolicyFromStrings([]string{"0", "10", "20"}), false, nil)

	start := time.Now()
	_, err = inv.Invoke(context.Background(), prx, "op", types.ModeNormal, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConnectFailed)
	assert.EqualValues(t, 3, env.observer.retried.Load())
	assert.EqualValues(t, 1, env.observer.failed.Load())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Zero(t, env.queue.Len())

	// -1 关闭重试
	env.observer.retried.Store(0)
	inv = env.invoker(retry.PolicyFromStrings([]string{"-1"}), false, nil)
	_, err = inv.Invoke(context.Background(), prx, "op", types.ModeNormal, nil)
	assert.ErrorIs(t, err, types.ErrConnectFailed)
	assert.Zero(t, env.observer.retried.Load())

	t.Log("✅ 重试次数有上限")
}

// TestInvoke_AtMostOnce 测试已发送的非幂等请求在连接丢失后不重试
func TestInvoke_AtMostOnce(t *testing.T) {
	env := newEnv(t, nil)

	var (
		calls atomic.Int32
		a     *adapter.ObjectAdapter
	)
	dropFirst := interfaces.ServantFunc(func(_ context.Context, cur *interfaces.Current, _ []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			for _, c := range a.Connections() {
				if c.ID() == cur.ConnectionID {
					c.Close(connection.CloseForcefully)
				}
			}
		}
		return []byte("ok"), nil
	})
	a, prx := env.serve(t, dropFirst)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inv := env.invoker(retry.PolicyFromStrings([]string{"0", "0"}), false, nil)
	_, err := inv.Invoke(ctx, prx, "write", types.ModeNormal, nil)
	assert.ErrorIs(t, err, types.ErrConnectionLost)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, env.observer.retried.Load())

	// 幂等请求可以安全重发
	calls.Store(0)
	out, err := inv.Invoke(ctx, prx, "read", types.ModeIdempotent, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 1, env.observer.retried.Load())

	t.Log("✅ 非幂等请求最多执行一次")
}

// TestInvoke_Timeout 测试调用超时
func TestInvoke_Timeout(t *testing.T) {
	env := newEnv(t, nil)
	release := make(chan struct{})
	_, prx := env.serve(t, interfaces.ServantFunc(func(context.Context, *interfaces.Current, []byte) ([]byte, error) {
		<-release
		return nil, nil
	}))
	defer close(release)

	inv := env.invoker(retry.PolicyFromStrings([]string{"0"}), false, nil)
	_, err := inv.Invoke(context.Background(), prx.WithInvocationTimeout(50*time.Millisecond), "slow", types.ModeIdempotent, nil)
	assert.ErrorIs(t, err, types.ErrInvocationTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inv.Invoke(ctx, prx, "slow", types.ModeNormal, nil)
	assert.ErrorIs(t, err, types.ErrInvocationCanceled)
}

// TestInvoke_NoEndpoint 测试间接代理在没有定位器时失败
func TestInvoke_NoEndpoint(t *testing.T) {
	env := newEnv(t, nil)
	prx, err := env.refs.Parse("obj @ adapter")
	require.NoError(t, err)

	inv := env.invoker(retry.PolicyFromStrings([]string{"0"}), false, nil)
	inv.rt.Locators = func() (*locator.Manager, error) {
		return locator.NewManager(locator.Config{Parser: env.refs}), nil
	}
	_, err = inv.Invoke(context.Background(), prx, "op", types.ModeNormal, nil)
	assert.ErrorIs(t, err, types.ErrNoEndpoint)
}

// TestSecureFirst 测试安全端点优先时的排序
func TestSecureFirst(t *testing.T) {
	m := endpoint.NewFactoryManager(endpoint.Defaults{Protocol: "tcp", Timeout: time.Second}, nil)
	defer m.Destroy()

	eps, err := m.ParseList("tcp -h 127.0.0.1 -p 1:ssl -h 127.0.0.1 -p 2:ws -h 127.0.0.1 -p 3:wss -h 127.0.0.1 -p 4")
	require.NoError(t, err)
	require.Len(t, eps, 4)

	got := secureFirst(eps)
	ports := make([]int, 0, len(got))
	for _, ep := range got {
		ports = append(ports, ep.Port())
	}
	assert.Equal(t, []int{2, 4, 1, 3}, ports)
	assert.Equal(t, 1, eps[0].Port())
}
