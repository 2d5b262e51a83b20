package plugin

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type testPlugin struct {
	name    string
	args    []string
	j       *journal
	initErr error
}

func (p *testPlugin) Initialize() error {
	if p.initErr != nil {
		return p.initErr
	}
	p.j.add("init:" + p.name)
	return nil
}

func (p *testPlugin) Destroy() error {
	p.j.add("destroy:" + p.name)
	return nil
}

type testHost struct {
	props *properties.Properties
}

func (h *testHost) Properties() interfaces.PropertiesReader { return h.props }
func (h *testHost) Logger() interfaces.Logger                 { return nil }

func register(t *testing.T, entryPoint string, j *journal, failing string) {
	t.Helper()
	Register(entryPoint, func(_ Host, name string, args []string) (interfaces.Plugin, error) {
		p := &testPlugin{name: name, args: args, j: j}
		if name == failing {
			p.initErr = errors.New("init failed")
		}
		return p, nil
	})
}

// TestManager_LoadOrder 测试加载顺序与参数解析
func TestManager_LoadOrder(t *testing.T) {
	j := &journal{}
	register(t, "test.order", j, "")

	props := properties.NewFromMap(map[string]string{
		"Ice.Plugin.C":    "test.order",
		"Ice.Plugin.A":    "test.order --x \"a b\"",
		"Ice.Plugin.B":    "test.order",
		"Ice.Plugin.B.go": "test.order --go",
		"Ice.Plugin.A.x":  "ignored",
	})
	m := NewManager(&testHost{props: props})
	require.NoError(t, m.LoadPlugins(props, []string{"C"}))
	assert.Equal(t, []string{"C", "A", "B"}, m.Plugins())

	a, err := m.Plugin("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"--x", "a b"}, a.(*testPlugin).args)
	b, err := m.Plugin("B")
	require.NoError(t, err)
	assert.Equal(t, []string{"--go"}, b.(*testPlugin).args)

	require.NoError(t, m.InitializePlugins())
	assert.ErrorIs(t, m.InitializePlugins(), types.ErrInitialization)

	m.Destroy()
	m.Destroy()
	assert.Equal(t, []string{
		"init:C", "init:A", "init:B",
		"destroy:B", "destroy:A", "destroy:C",
	}, j.snapshot())

	_, err = m.Plugin("A")
	assert.ErrorIs(t, err, types.ErrCommunicatorDestroyed)

	t.Log("✅ 插件按顺序加载并逆序销毁")
}

// TestManager_LoadErrors 测试缺失工厂与未定义的加载顺序
func TestManager_LoadErrors(t *testing.T) {
	props := properties.NewFromMap(map[string]string{"Ice.Plugin.X": "test.missing"})
	m := NewManager(&testHost{props: props})
	err := m.LoadPlugins(props, nil)
	assert.ErrorIs(t, err, types.ErrInitialization)
	assert.Contains(t, err.Error(), "test.missing")

	m = NewManager(&testHost{props: properties.New()})
	err = m.LoadPlugins(properties.New(), []string{"Nope"})
	assert.ErrorIs(t, err, types.ErrInitialization)
}

// TestManager_InitializeFailure 测试初始化失败时回滚已初始化插件
func TestManager_InitializeFailure(t *testing.T) {
	j := &journal{}
	register(t, "test.fail", j, "B")

	props := properties.NewFromMap(map[string]string{
		"Ice.Plugin.A": "test.fail",
		"Ice.Plugin.B": "test.fail",
		"Ice.Plugin.C": "test.fail",
	})
	m := NewManager(&testHost{props: props})
	require.NoError(t, m.LoadPlugins(props, nil))

	err := m.InitializePlugins()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "`B'")

	m.Destroy()
	assert.Equal(t, []string{"init:A", "destroy:A"}, j.snapshot())
}

// TestManager_AddPlugin 测试手动添加插件
func TestManager_AddPlugin(t *testing.T) {
	j := &journal{}
	m := NewManager(&testHost{props: properties.New()})

	require.NoError(t, m.AddPlugin("Manual", &testPlugin{name: "Manual", j: j}))
	assert.ErrorIs(t, m.AddPlugin("Manual", &testPlugin{j: j}), types.ErrAlreadyRegistered)

	_, err := m.Plugin("Other")
	assert.ErrorIs(t, err, types.ErrNotRegistered)

	// 未初始化的插件不会被销毁
	m.Destroy()
	assert.Empty(t, j.snapshot())
	assert.ErrorIs(t, m.AddPlugin("Late", &testPlugin{j: j}), types.ErrCommunicatorDestroyed)
}
