package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/internal/core/introspect"
	"github.com/dep2p/go-commrt/internal/core/lifecycle"
	"github.com/dep2p/go-commrt/internal/core/plugin"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// ============================================================================
//                              测试辅助
// ============================================================================

type recordingLogger struct {
	mu       sync.Mutex
	warnings []string
	traces   []string
}

func (l *recordingLogger) Print(string) {}

func (l *recordingLogger) Trace(category, message string) {
	l.mu.Lock()
	l.traces = append(l.traces, category+": "+message)
	l.mu.Unlock()
}

func (l *recordingLogger) Warning(message string) {
	l.mu.Lock()
	l.warnings = append(l.warnings, message)
	l.mu.Unlock()
}

func (l *recordingLogger) Error(string)                             {}
func (l *recordingLogger) Prefix() string                           { return "" }
func (l *recordingLogger) CloneWithPrefix(string) interfaces.Logger { return l }

func (l *recordingLogger) snapshotWarnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warnings...)
}

func newInstance(t *testing.T, props map[string]string) *Instance {
	t.Helper()
	i, err := New(InitData{Properties: properties.NewFromMap(props)})
	require.NoError(t, err)
	t.Cleanup(i.Destroy)
	return i
}

func newSetupInstance(t *testing.T, props map[string]string) *Instance {
	t.Helper()
	i := newInstance(t, props)
	require.NoError(t, i.FinishSetup(context.Background()))
	return i
}

// ============================================================================
//                              生命周期
// ============================================================================

// TestInstance_ConcurrentDestroy 测试并发 Destroy 只执行一次完整序列
func TestInstance_ConcurrentDestroy(t *testing.T) {
	i := newSetupInstance(t, nil)
	_, err := i.ServerThreadPool()
	require.NoError(t, err)

	var mu sync.Mutex
	var steps []string
	i.OnTeardownStep(func(name string) {
		mu.Lock()
		steps = append(steps, name)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.Destroy()
			assert.True(t, i.IsDestroyed())
		}()
	}
	wg.Wait()

	expected := []string{
		stepAdapterShutdown,
		stepOutgoingDestroy,
		stepAdapterDestroy,
		stepServerMonitor,
		stepOutgoingWait,
		stepRetryQueue,
		stepServerPool,
		stepClientPool,
		stepResolver,
		stepTimer,
		stepJoinThreads,
		stepRouterManager,
		stepLocatorManager,
		stepEndpointFactory,
		stepPluginManager,
	}
	mu.Lock()
	assert.Equal(t, expected, steps)
	mu.Unlock()

	t.Log("✅ 销毁序列只执行一次且顺序正确")
}

// TestInstance_DestroyReleasesHandles 测试销毁后句柄全部置空并从注册表移除
func TestInstance_DestroyReleasesHandles(t *testing.T) {
	before := UndestroyedCount()
	i, err := New(InitData{Properties: properties.New()})
	require.NoError(t, err)
	require.NoError(t, i.FinishSetup(context.Background()))
	assert.Equal(t, before+1, UndestroyedCount())
	assert.NotEmpty(t, i.ownedHandles())

	i.Destroy()
	assert.Equal(t, before, UndestroyedCount())
	assert.Empty(t, i.ownedHandles())
	assert.Equal(t, lifecycle.StateDestroyed, i.State())

	_, err = i.RetryQueue()
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
	_, err = i.ClientThreadPool()
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
	_, err = i.ServerThreadPool()
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
	_, err = i.ReferenceFactory()
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
	err = i.AddAdminFacet(interfaces.ServantFunc(nil), "x")
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)

	called := false
	i.DestroyAsync(func() { called = true })
	assert.True(t, called, "DestroyAsync on a destroyed instance runs the callback inline")

	t.Log("✅ 销毁后无残留句柄")
}

// TestInstance_AccessorsDuringDestroy 测试访问器与 Destroy 并发时的原子性
func TestInstance_AccessorsDuringDestroy(t *testing.T) {
	i := newSetupInstance(t, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				q, err := i.RetryQueue()
				if err != nil {
					assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
				} else {
					assert.NotNil(t, q)
				}
				tm, err := i.Timer()
				if err != nil {
					assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
				} else {
					assert.NotNil(t, tm)
				}
				f, err := i.OutgoingConnectionFactory()
				if err != nil {
					assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)
				} else {
					assert.NotNil(t, f)
				}
			}
		}()
	}

	i.Destroy()
	close(stop)
	wg.Wait()

	t.Log("✅ 访问器要么返回有效句柄，要么返回已销毁错误")
}

// TestInstance_ServerPoolAfterDestroyStarted 测试销毁开始后不再创建服务端线程池
func TestInstance_ServerPoolAfterDestroyStarted(t *testing.T) {
	i := newSetupInstance(t, nil)

	var serverErr, clientErr error
	var once sync.Once
	i.OnTeardownStep(func(string) {
		once.Do(func() {
			_, serverErr = i.ServerThreadPool()
			_, clientErr = i.ClientThreadPool()
		})
	})
	i.Destroy()

	assert.ErrorIs(t, serverErr, types.ErrCommunicatorDestroyed)
	assert.NoError(t, clientErr, "the client pool already exists and stays reachable until teardown completes")
}

// TestInstance_InvalidToStringMode 测试非法配置在构造阶段失败且不留在注册表中
func TestInstance_InvalidToStringMode(t *testing.T) {
	before := UndestroyedCount()

	i, err := New(InitData{Properties: properties.NewFromMap(map[string]string{
		"Ice.ToStringMode": "Foo",
	})})
	require.Error(t, err)
	assert.Nil(t, i)
	assert.ErrorIs(t, err, types.ErrInitialization)
	assert.Equal(t, before, UndestroyedCount())

	t.Log("✅ 构造失败后注册表不变")
}

// TestInstance_PrintProcessID 测试 Ice.PrintProcessId
func TestInstance_PrintProcessID(t *testing.T) {
	var out bytes.Buffer
	i, err := New(InitData{
		Properties: properties.NewFromMap(map[string]string{"Ice.PrintProcessId": "1"}),
		Stdout:     &out,
	})
	require.NoError(t, err)
	defer i.Destroy()

	require.NoError(t, i.FinishSetup(context.Background()))
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), out.String())
}

// TestInstance_DefaultLocator 测试 Ice.Default.Locator 替换 Reference 工厂
func TestInstance_DefaultLocator(t *testing.T) {
	i := newSetupInstance(t, map[string]string{
		"Ice.Default.Locator": "IceGrid/Locator:tcp -h 127.0.0.1 -p 12000",
	})

	refs, err := i.ReferenceFactory()
	require.NoError(t, err)
	require.NotNil(t, refs.DefaultLocator())
	assert.Equal(t, "Locator", refs.DefaultLocator().Identity().Name)

	prx, err := i.Parse("hello")
	require.NoError(t, err)
	require.NotNil(t, prx.Locator())

	require.NoError(t, i.SetDefaultLocator(nil))
	refs, err = i.ReferenceFactory()
	require.NoError(t, err)
	assert.Nil(t, refs.DefaultLocator())
}

// TestInstance_UnusedPropertiesWarning 测试销毁时报告未使用的属性
func TestInstance_UnusedPropertiesWarning(t *testing.T) {
	l := &recordingLogger{}
	i, err := New(InitData{
		Properties: properties.NewFromMap(map[string]string{
			"Ice.Warn.UnusedProperties": "1",
			"Demo.Unused":               "x",
		}),
		Logger: l,
	})
	require.NoError(t, err)
	require.NoError(t, i.FinishSetup(context.Background()))
	i.Destroy()

	warnings := strings.Join(l.snapshotWarnings(), "\n")
	assert.Contains(t, warnings, "Demo.Unused")
	assert.NotContains(t, warnings, "Ice.Warn.UnusedProperties")
}

// ============================================================================
//                              插件
// ============================================================================

type lifecyclePlugin struct {
	mu          sync.Mutex
	initialized bool
	destroyed   bool
}

func (p *lifecyclePlugin) Initialize() error {
	p.mu.Lock()
	p.initialized = true
	p.mu.Unlock()
	return nil
}

func (p *lifecyclePlugin) Destroy() error {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
	return nil
}

func (p *lifecyclePlugin) state() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized, p.destroyed
}

// TestInstance_PluginsDestroyedLast 测试插件在 FinishSetup 中初始化并在最后一步销毁
func TestInstance_PluginsDestroyedLast(t *testing.T) {
	p := &lifecyclePlugin{}
	plugin.Register("instance-test-plugin", func(plugin.Host, string, []string) (interfaces.Plugin, error) {
		return p, nil
	})

	i := newSetupInstance(t, map[string]string{"Ice.Plugin.Probe": "instance-test-plugin"})
	initialized, destroyed := p.state()
	assert.True(t, initialized)
	assert.False(t, destroyed)

	// 插件管理器之前的每一步执行时插件仍然存活
	var destroyedEarly bool
	i.OnTeardownStep(func(name string) {
		if name == stepPluginManager {
			return
		}
		if _, d := p.state(); d {
			destroyedEarly = true
		}
	})
	i.Destroy()

	_, destroyed = p.state()
	assert.True(t, destroyed)
	assert.False(t, destroyedEarly)
}

// ============================================================================
//                              诊断服务
// ============================================================================

// TestInstance_Introspect 测试诊断 HTTP 服务随实例启动与停止
func TestInstance_Introspect(t *testing.T) {
	i := newSetupInstance(t, map[string]string{
		"Ice.Admin.HTTP.Endpoint": "127.0.0.1:0",
		"Ice.Admin.Enabled":       "1",
	})

	srv, err := i.Introspect()
	require.NoError(t, err)
	require.NotNil(t, srv)

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	var health introspect.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get("http://" + srv.Addr() + "/admin/facets")
	require.NoError(t, err)
	var facets introspect.FacetsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&facets))
	resp.Body.Close()
	assert.Contains(t, facets.Facets, "Process")
	assert.Contains(t, facets.Facets, "Metrics")

	var steps []string
	i.OnTeardownStep(func(name string) { steps = append(steps, name) })
	i.Destroy()
	require.NotEmpty(t, steps)
	assert.Equal(t, stepIntrospect, steps[0])
}

// TestPrintUndestroyed 测试对未销毁实例输出警告
func TestPrintUndestroyed(t *testing.T) {
	i, err := New(InitData{Properties: properties.NewFromMap(map[string]string{"Ice.ProgramName": "leaky"})})
	require.NoError(t, err)

	l := &recordingLogger{}
	n := PrintUndestroyed(l)
	assert.GreaterOrEqual(t, n, 1)
	assert.Len(t, l.snapshotWarnings(), n)

	var found bool
	for _, w := range l.snapshotWarnings() {
		if strings.Contains(w, "leaky (") {
			found = true
		}
	}
	assert.True(t, found)

	i.Destroy()
	assert.Equal(t, n-1, PrintUndestroyed(nil))
}
