package commrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// TestModule_Lifecycle 测试 fx 应用停止时销毁通信器
func TestModule_Lifecycle(t *testing.T) {
	var c *Communicator
	app := fxtest.New(t,
		Module(WithProperty("Demo.Key", "fx")),
		fx.Populate(&c),
	)
	app.RequireStart()

	require.NotNil(t, c)
	assert.Equal(t, "fx", c.Properties().Get("Demo.Key"))
	_, err := c.CreateObjectAdapterWithEndpoints("Srv", "tcp -h 127.0.0.1 -p 0")
	require.NoError(t, err)

	app.RequireStop()
	assert.True(t, c.IsDestroyed())

	t.Log("✅ fx 生命周期结束时通信器已销毁")
}

// TestModule_InitializeError 测试初始化失败时 fx 应用启动失败
func TestModule_InitializeError(t *testing.T) {
	var c *Communicator
	app := fx.New(
		fx.NopLogger,
		Module(WithProperty("Ice.ImplicitContext", "Bogus")),
		fx.Populate(&c),
	)
	err := app.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ice.ImplicitContext")
	assert.Nil(t, c)
}
