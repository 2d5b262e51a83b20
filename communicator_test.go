package commrt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommunicator(t *testing.T, opts ...Option) *Communicator {
	t.Helper()
	c, err := Initialize(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(c.Destroy)
	return c
}

func echoServant() Servant {
	return ServantFunc(func(_ context.Context, cur *Current, params []byte) ([]byte, error) {
		if cur.Operation == "fail" {
			return nil, &UserError{TypeID: "::Demo::Failed", Message: "requested"}
		}
		return append([]byte(cur.Operation+":"), params...), nil
	})
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// TestCommunicator_InitializeDestroy 测试创建与销毁
func TestCommunicator_InitializeDestroy(t *testing.T) {
	before := UndestroyedCount()

	c, err := Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, UndestroyedCount())
	assert.NotEmpty(t, c.ID())
	assert.False(t, c.IsDestroyed())
	assert.NotNil(t, c.Logger())
	assert.Nil(t, c.ImplicitContext())

	c.Destroy()
	assert.True(t, c.IsDestroyed())
	assert.Equal(t, before, UndestroyedCount())

	_, err = c.CreateObjectAdapter("Late")
	assert.ErrorIs(t, err, ErrCommunicatorDestroyed)
	_, err = c.PluginManager()
	assert.ErrorIs(t, err, ErrCommunicatorDestroyed)
	assert.True(t, c.IsShutdown())
	assert.NoError(t, c.WaitForShutdown(context.Background()))

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel not closed after Destroy")
	}

	t.Log("✅ 创建与销毁正确")
}

// TestCommunicator_InvalidConfig 测试非法配置导致初始化失败
func TestCommunicator_InvalidConfig(t *testing.T) {
	before := UndestroyedCount()

	c, err := Initialize(context.Background(), WithProperty("Ice.ToStringMode", "bogus"))
	require.Error(t, err)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.Equal(t, before, UndestroyedCount())
}

// TestCommunicator_ConcurrentDestroy 测试并发销毁
func TestCommunicator_ConcurrentDestroy(t *testing.T) {
	c := newCommunicator(t)

	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Destroy()
			assert.True(t, c.IsDestroyed())
		}()
	}
	wg.Wait()
}

// TestCommunicator_DestroyAsync 测试异步销毁回调
func TestCommunicator_DestroyAsync(t *testing.T) {
	c := newCommunicator(t)

	done := make(chan struct{})
	c.DestroyAsync(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("DestroyAsync callback not invoked")
	}
	assert.True(t, c.IsDestroyed())
}

// TestCommunicator_ShutdownWait 测试 Shutdown 唤醒 WaitForShutdown
func TestCommunicator_ShutdownWait(t *testing.T) {
	c := newCommunicator(t)
	_, err := c.CreateObjectAdapterWithEndpoints("Srv", "tcp -h 127.0.0.1 -p 0")
	require.NoError(t, err)
	assert.False(t, c.IsShutdown())

	waited := make(chan error, 1)
	go func() { waited <- c.WaitForShutdown(context.Background()) }()

	c.Shutdown()
	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}
	assert.True(t, c.IsShutdown())

	_, err = c.CreateObjectAdapter("After")
	assert.ErrorIs(t, err, ErrObjectAdapterDeactivated)
}

// TestCommunicator_WaitForShutdownContext 测试 WaitForShutdown 受 ctx 约束
func TestCommunicator_WaitForShutdownContext(t *testing.T) {
	c := newCommunicator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForShutdown(ctx), context.DeadlineExceeded)
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// TestCommunicator_PropertySources 测试属性来源的覆盖顺序
func TestCommunicator_PropertySources(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("Demo:\n  Name: file\n  Level: 1\n"), 0o600))

	var rest []string
	c := newCommunicator(t,
		WithConfigFile(cfg),
		WithProperty("Demo.Level", "2"),
		WithArgs([]string{"--Demo.Name=args", "positional"}, &rest),
	)

	props := c.Properties()
	assert.Equal(t, "2", props.Get("Demo.Level"))
	assert.Equal(t, []string{"--Demo.Name=args", "positional"}, rest, "Demo is not a reserved prefix")
	assert.Equal(t, "file", props.Get("Demo.Name"))

	c2 := newCommunicator(t, WithArgs([]string{"--Ice.ProgramName=probe", "x"}, &rest))
	assert.Equal(t, "probe", c2.Properties().Get("Ice.ProgramName"))
	assert.Equal(t, []string{"x"}, rest)
}

// TestCommunicator_WithPropertiesCopies 测试 WithProperties 使用副本
func TestCommunicator_WithPropertiesCopies(t *testing.T) {
	p := NewProperties()
	p.Set("Demo.Key", "v1")

	c := newCommunicator(t, WithProperties(p))
	p.Set("Demo.Key", "v2")
	assert.Equal(t, "v1", c.Properties().Get("Demo.Key"))

	_, err := Initialize(context.Background(), WithProperties(nil))
	assert.Error(t, err)
}

// TestCommunicator_PrintProcessID 测试进程 ID 输出到指定 writer
func TestCommunicator_PrintProcessID(t *testing.T) {
	var out bytes.Buffer
	newCommunicator(t,
		WithProperty("Ice.PrintProcessId", "1"),
		WithOutput(&out, &bytes.Buffer{}),
	)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", out.String())
}

// ════════════════════════════════════════════════════════════════════════════
//                              代理与调用
// ════════════════════════════════════════════════════════════════════════════

// TestCommunicator_Echo 测试适配器分派与代理调用
func TestCommunicator_Echo(t *testing.T) {
	c := newCommunicator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := c.CreateObjectAdapterWithEndpoints("Echo", "tcp -h 127.0.0.1 -p 0")
	require.NoError(t, err)
	id := Identity{Name: "echo"}
	require.NoError(t, a.Add(echoServant(), id))
	require.NoError(t, a.Activate(ctx))

	prx, err := c.CreateProxy(a, id)
	require.NoError(t, err)
	assert.Equal(t, id, prx.Identity())

	out, err := prx.Invoke(ctx, "say", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "say:hi", string(out))

	_, err = prx.Idempotent().Invoke(ctx, "fail", nil)
	var ue *UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "::Demo::Failed", ue.TypeID)

	require.NoError(t, prx.Ping(ctx))

	missing, err := c.CreateProxy(a, Identity{Name: "missing"})
	require.NoError(t, err)
	assert.ErrorIs(t, missing.Ping(ctx), ErrObjectNotExist)

	assert.ErrorIs(t, prx.Facet("other").Ping(ctx), ErrFacetNotExist)

	t.Log("✅ 代理调用正确")
}

// TestCommunicator_StringToProxy 测试代理字符串往返
func TestCommunicator_StringToProxy(t *testing.T) {
	c := newCommunicator(t)

	prx, err := c.StringToProxy("hello:tcp -h 127.0.0.1 -p 10000")
	require.NoError(t, err)
	require.NotNil(t, prx)
	assert.Equal(t, "hello", prx.Identity().Name)
	assert.False(t, prx.IsIndirect())

	again, err := c.StringToProxy(c.ProxyToString(prx))
	require.NoError(t, err)
	assert.Equal(t, prx.String(), again.String())

	empty, err := c.StringToProxy("")
	require.NoError(t, err)
	assert.Nil(t, empty)
	assert.Equal(t, "", c.ProxyToString(nil))

	_, err = c.StringToProxy("hello:bogus -x")
	assert.Error(t, err)
}

// TestObjectPrx_EndpointSelection 测试安全端点与适配器 ID 相关的代理变换
func TestObjectPrx_EndpointSelection(t *testing.T) {
	c := newCommunicator(t, WithProperty("Ice.Default.PreferSecure", "1"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prx, err := c.StringToProxy("hello:tcp -h 127.0.0.1 -p 1")
	require.NoError(t, err)
	assert.True(t, prx.IsPreferSecure())
	assert.False(t, prx.IsSecure())
	assert.False(t, prx.WithPreferSecure(false).IsPreferSecure())

	secure := prx.WithSecure(true)
	assert.True(t, secure.IsSecure())
	_, err = secure.Invoke(ctx, "op", nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)

	indirect := prx.WithAdapterID("Remote")
	assert.True(t, indirect.IsIndirect())
	assert.Equal(t, "Remote", indirect.AdapterID())
	assert.False(t, prx.IsIndirect())
}

// TestCommunicator_DefaultLocator 测试默认定位器的设置与清除
func TestCommunicator_DefaultLocator(t *testing.T) {
	c := newCommunicator(t, WithProperty("Ice.Default.Locator", "IceGrid/Locator:tcp -h 127.0.0.1 -p 12000"))

	loc, err := c.DefaultLocator()
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "Locator", loc.Identity().Name)

	prx, err := c.StringToProxy("hello@Adapter")
	require.NoError(t, err)
	assert.True(t, prx.IsIndirect())
	assert.Equal(t, "Adapter", prx.AdapterID())

	require.NoError(t, c.SetDefaultLocator(nil))
	loc, err = c.DefaultLocator()
	require.NoError(t, err)
	assert.Nil(t, loc)

	router, err := c.DefaultRouter()
	require.NoError(t, err)
	assert.Nil(t, router)
}

// ════════════════════════════════════════════════════════════════════════════
//                              插件与管理对象
// ════════════════════════════════════════════════════════════════════════════

type probePlugin struct {
	initialized bool
	destroyed   bool
}

func (p *probePlugin) Initialize() error {
	p.initialized = true
	return nil
}

func (p *probePlugin) Destroy() error {
	p.destroyed = true
	return nil
}

// TestCommunicator_Plugin 测试插件加载、初始化与销毁
func TestCommunicator_Plugin(t *testing.T) {
	probe := &probePlugin{}
	RegisterPlugin("commrt-test-probe", func(_ PluginHost, _ string, _ []string) (Plugin, error) {
		return probe, nil
	})

	c := newCommunicator(t, WithProperty("Ice.Plugin.Probe", "commrt-test-probe"))
	pm, err := c.PluginManager()
	require.NoError(t, err)
	p, err := pm.Plugin("Probe")
	require.NoError(t, err)
	assert.Same(t, probe, p)
	assert.True(t, probe.initialized)

	c.Destroy()
	assert.True(t, probe.destroyed)
}

// TestCommunicator_Admin 测试管理对象与 facet
func TestCommunicator_Admin(t *testing.T) {
	c := newCommunicator(t,
		WithProperty("Ice.Admin.Endpoints", "tcp -h 127.0.0.1 -p 0"),
		WithProperty("Ice.Admin.InstanceName", "commrt"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	adminPrx, err := c.GetAdmin(ctx)
	require.NoError(t, err)
	require.NotNil(t, adminPrx)
	assert.Equal(t, Identity{Name: "admin", Category: "commrt"}, adminPrx.Identity())

	require.NoError(t, c.AddAdminFacet(echoServant(), "Echo"))
	assert.ErrorIs(t, c.AddAdminFacet(echoServant(), "Echo"), ErrAlreadyRegistered)

	out, err := adminPrx.Facet("Echo").Invoke(ctx, "say", []byte("admin"))
	require.NoError(t, err)
	assert.Equal(t, "say:admin", string(out))

	all, err := c.FindAllAdminFacets()
	require.NoError(t, err)
	assert.Contains(t, all, "Echo")
	assert.Contains(t, all, "Process")

	s, err := c.RemoveAdminFacet("Echo")
	require.NoError(t, err)
	assert.NotNil(t, s)
	found, err := c.FindAdminFacet("Echo")
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = c.CreateAdmin(ctx, nil, Identity{Name: "other"})
	assert.ErrorIs(t, err, ErrInitialization)
}
