package locator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/pkg/types"
)

// fakeLocator 以内存表应答定位器操作
type fakeLocator struct {
	mu       sync.Mutex
	adapters map[string]string
	objects  map[types.Identity]string
	servers  map[string]string
	calls    map[string]int
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{
		adapters: make(map[string]string),
		objects:  make(map[types.Identity]string),
		servers:  make(map[string]string),
		calls:    make(map[string]int),
	}
}

func (f *fakeLocator) Invoke(_ context.Context, _ *reference.Reference, op string, _ types.OperationMode, params []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++

	reply := func(s string) ([]byte, error) { return json.Marshal(s) }
	switch op {
	case OpFindAdapterByID:
		var id string
		_ = json.Unmarshal(params, &id)
		prx, ok := f.adapters[id]
		if !ok {
			return nil, &types.UserError{TypeID: AdapterNotFoundTypeID}
		}
		return reply(prx)
	case OpFindObjectByID:
		var id types.Identity
		_ = json.Unmarshal(params, &id)
		prx, ok := f.objects[id]
		if !ok {
			return nil, &types.UserError{TypeID: ObjectNotFoundTypeID}
		}
		return reply(prx)
	case OpGetRegistry:
		return reply("Registry:tcp -h 127.0.0.1 -p 4062")
	case OpSetServerProcessProxy:
		var p SetProxyParams
		_ = json.Unmarshal(params, &p)
		if p.ID != "known" {
			return nil, &types.UserError{TypeID: ServerNotFoundTypeID}
		}
		f.servers[p.ID] = p.Proxy
		return nil, nil
	case OpSetAdapterDirectProxy:
		var p SetProxyParams
		_ = json.Unmarshal(params, &p)
		f.adapters[p.ID] = p.Proxy
		return nil, nil
	case OpGetClientProxy:
		return reply("")
	case OpGetServerProxy:
		return reply("server:tcp -h 127.0.0.1 -p 5000")
	}
	return nil, types.ErrOperationNotExist
}

func (f *fakeLocator) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func setup(t *testing.T) (*reference.Factory, *fakeLocator, *clock.Mock, Config) {
	eps := endpoint.NewFactoryManager(endpoint.Defaults{Protocol: "tcp", Timeout: time.Minute}, nil)
	t.Cleanup(eps.Destroy)
	refs := reference.NewFactory(eps, types.ToStringUnicode, config.DefaultDefaultsConfig())
	fake := newFakeLocator()
	mock := clock.NewMock()
	return refs, fake, mock, Config{Invoker: fake, Parser: refs, Clock: mock}
}

func mustParse(t *testing.T, refs *reference.Factory, s string) *reference.Reference {
	r, err := refs.Parse(s)
	require.NoError(t, err)
	return r
}

// TestInfo_AdapterCache 测试适配器解析与缓存有效期
func TestInfo_AdapterCache(t *testing.T) {
	refs, fake, mock, cfg := setup(t)
	fake.adapters["hello"] = "dummy:tcp -h 127.0.0.1 -p 10000"

	mgr := NewManager(cfg)
	info := mgr.Get(mustParse(t, refs, "Locator:tcp -p 4061"))
	require.NotNil(t, info)

	ref := mustParse(t, refs, "obj @ hello").WithLocatorCacheTimeout(10 * time.Second)

	eps, cached, err := info.Endpoints(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, cached)
	require.Len(t, eps, 1)
	assert.Equal(t, 10000, eps[0].Port())

	_, cached, err = info.Endpoints(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 1, fake.count(OpFindAdapterByID))

	mock.Add(11 * time.Second)
	_, cached, err = info.Endpoints(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, fake.count(OpFindAdapterByID))

	info.ClearCache(ref)
	_, cached, _ = info.Endpoints(context.Background(), ref)
	assert.False(t, cached)

	noCache := ref.WithLocatorCacheTimeout(0)
	_, cached, _ = info.Endpoints(context.Background(), noCache)
	assert.False(t, cached)

	t.Log("✅ 适配器端点缓存按有效期失效")
}

// TestInfo_WellKnownObject 测试按身份解析对象
func TestInfo_WellKnownObject(t *testing.T) {
	refs, fake, _, cfg := setup(t)
	fake.objects[types.Identity{Name: "printer"}] = "printer @ printers"
	fake.adapters["printers"] = "p:tcp -h 127.0.0.1 -p 10001"

	info := NewManager(cfg).Get(mustParse(t, refs, "Locator:tcp -p 4061"))
	eps, _, err := info.Endpoints(context.Background(), mustParse(t, refs, "printer"))
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, 10001, eps[0].Port())

	_, _, err = info.Endpoints(context.Background(), mustParse(t, refs, "missing"))
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.True(t, IsNotFound(err))

	_, _, err = info.Endpoints(context.Background(), mustParse(t, refs, "x @ nowhere"))
	assert.ErrorIs(t, err, ErrAdapterNotFound)
}

// TestInfo_Registry 测试注册表操作
func TestInfo_Registry(t *testing.T) {
	refs, fake, _, cfg := setup(t)
	info := NewManager(cfg).Get(mustParse(t, refs, "Locator:tcp -p 4061"))
	ctx := context.Background()

	reg, err := info.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Registry", reg.Identity().Name)
	_, err = info.Registry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count(OpGetRegistry))

	require.NoError(t, info.SetServerProcessProxy(ctx, "known", "admin -f Process:tcp -p 1"))
	err = info.SetServerProcessProxy(ctx, "unknown", "admin -f Process:tcp -p 1")
	assert.ErrorIs(t, err, ErrServerNotFound)

	require.NoError(t, info.SetAdapterDirectProxy(ctx, "a1", "dummy:tcp -h 127.0.0.1 -p 7"))
	eps, _, err := info.Endpoints(ctx, mustParse(t, refs, "x @ a1"))
	require.NoError(t, err)
	assert.Equal(t, 7, eps[0].Port())
}

// TestManager_GetAndDestroy 测试管理器缓存与销毁
func TestManager_GetAndDestroy(t *testing.T) {
	refs, _, _, cfg := setup(t)
	mgr := NewManager(cfg)

	a := mgr.Get(mustParse(t, refs, "Locator:tcp -p 4061"))
	b := mgr.Get(mustParse(t, refs, "Locator:tcp -p 4061"))
	assert.Same(t, a, b)
	assert.Nil(t, mgr.Get(nil))
	assert.Equal(t, 1, mgr.Len())

	mgr.Destroy()
	assert.Nil(t, mgr.Get(mustParse(t, refs, "Locator:tcp -p 4061")))
	assert.Equal(t, 0, mgr.Len())
}

// TestRouterManager 测试路由器端点
func TestRouterManager(t *testing.T) {
	refs, fake, _, cfg := setup(t)
	mgr := NewRouterManager(cfg)
	router := mustParse(t, refs, "Glacier/router:tcp -h 127.0.0.1 -p 4063")

	info := mgr.Get(router)
	require.NotNil(t, info)
	assert.Same(t, info, mgr.Get(router))

	ctx := context.Background()
	client, err := info.ClientEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, client, 1)
	assert.Equal(t, 4063, client[0].Port())
	_, _ = info.ClientEndpoints(ctx)
	assert.Equal(t, 1, fake.count(OpGetClientProxy))

	server, err := info.ServerEndpoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5000, server[0].Port())

	assert.Same(t, info, mgr.Erase(router))
	assert.Nil(t, mgr.Erase(router))

	mgr.Destroy()
	assert.Nil(t, mgr.Get(router))
}
