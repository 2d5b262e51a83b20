package implicitctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/pkg/types"
)

// TestCreate 测试按类型创建
func TestCreate(t *testing.T) {
	ic, err := Create(config.ImplicitContextNone)
	require.NoError(t, err)
	assert.Nil(t, ic)

	_, err = Create(config.ImplicitContextKind(42))
	assert.ErrorIs(t, err, types.ErrInitialization)
}

// TestShared_Combine 测试共享上下文与代理上下文合并
func TestShared_Combine(t *testing.T) {
	ic, err := Create(config.ImplicitContextShared)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "", ic.Put(ctx, "user", "alice"))
	assert.Equal(t, "alice", ic.Put(ctx, "user", "bob"))
	ic.Put(ctx, "trace", "1")
	assert.True(t, ic.ContainsKey(ctx, "user"))

	got := ic.Combine(ctx, map[string]string{"trace": "2", "x": "y"})
	assert.Equal(t, map[string]string{"user": "bob", "trace": "2", "x": "y"}, got)

	assert.Equal(t, "bob", ic.Remove(ctx, "user"))
	assert.False(t, ic.ContainsKey(ctx, "user"))

	ic.SetContext(ctx, map[string]string{"a": "b"})
	assert.Equal(t, map[string]string{"a": "b"}, ic.Context(ctx))

	t.Log("✅ 共享上下文合并正确")
}

// TestPerThread_Scopes 测试调用链作用域互相隔离
func TestPerThread_Scopes(t *testing.T) {
	ic, err := Create(config.ImplicitContextPerThread)
	require.NoError(t, err)

	a := NewContext(context.Background())
	b := NewContext(context.Background())
	ic.Put(a, "k", "a")
	ic.Put(b, "k", "b")
	ic.Put(context.Background(), "k", "root")

	assert.Equal(t, "a", ic.Get(a, "k"))
	assert.Equal(t, "b", ic.Get(b, "k"))
	assert.Equal(t, "root", ic.Get(context.Background(), "k"))

	child, cancel := context.WithCancel(a)
	defer cancel()
	assert.Equal(t, "a", ic.Get(child, "k"))

	assert.Nil(t, ic.Combine(NewContext(context.Background()), nil))
}
