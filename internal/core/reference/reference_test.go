package reference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/internal/core/properties"
	"github.com/dep2p/go-commrt/pkg/types"
)

func newFactory(t *testing.T, mode types.ToStringMode) *Factory {
	eps := endpoint.NewFactoryManager(endpoint.Defaults{Protocol: "tcp", Timeout: time.Minute}, nil)
	t.Cleanup(eps.Destroy)
	return NewFactory(eps, mode, config.DefaultDefaultsConfig())
}

// TestIdentityToString_Modes 测试三种字符串化模式
func TestIdentityToString_Modes(t *testing.T) {
	id := types.Identity{Category: "c/t", Name: "café\n"}

	assert.Equal(t, `c\/t/café\n`, IdentityToString(id, types.ToStringUnicode))
	assert.Equal(t, `c\/t/caf\u00E9\n`, IdentityToString(id, types.ToStringASCII))
	assert.Equal(t, `c\/t/caf\303\251\n`, IdentityToString(id, types.ToStringCompat))

	for _, mode := range []types.ToStringMode{types.ToStringUnicode, types.ToStringASCII, types.ToStringCompat} {
		back, err := StringToIdentity(IdentityToString(id, mode))
		require.NoError(t, err, mode.String())
		assert.Equal(t, id, back, mode.String())
	}

	t.Log("✅ 身份转义可逆")
}

// TestStringToIdentity_Errors 测试非法身份
func TestStringToIdentity_Errors(t *testing.T) {
	_, err := StringToIdentity("a/b/c")
	assert.ErrorIs(t, err, types.ErrIdentityParse)

	_, err = StringToIdentity("cat/")
	assert.ErrorIs(t, err, types.ErrIllegalIdentity)

	_, err = StringToIdentity(`bad\u12`)
	assert.ErrorIs(t, err, types.ErrIdentityParse)

	id, err := StringToIdentity("")
	require.NoError(t, err)
	assert.True(t, id.IsZero())
}

// TestFactory_ParseDirect 测试直连代理解析与格式化
func TestFactory_ParseDirect(t *testing.T) {
	f := newFactory(t, types.ToStringUnicode)

	r, err := f.Parse("cat/obj -f fac -o -s:tcp -h 127.0.0.1 -p 4061:ws -h localhost -p 80")
	require.NoError(t, err)
	assert.Equal(t, types.Identity{Category: "cat", Name: "obj"}, r.Identity())
	assert.Equal(t, "fac", r.Facet())
	assert.Equal(t, ModeOneway, r.Mode())
	assert.True(t, r.Secure())
	require.Len(t, r.Endpoints(), 2)
	assert.False(t, r.IsIndirect())

	s := f.String(r)
	assert.Equal(t, "cat/obj -f fac -o -s:tcp -h 127.0.0.1 -p 4061 -t 60000:ws -h localhost -p 80 -t 60000", s)

	again, err := f.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, s, f.String(again))

	t.Log("✅ 直连代理可往返")
}

// TestFactory_ParseIndirect 测试间接代理
func TestFactory_ParseIndirect(t *testing.T) {
	f := newFactory(t, types.ToStringUnicode)

	r, err := f.Parse(`hello @ "my adapter"`)
	require.NoError(t, err)
	assert.Equal(t, "my adapter", r.AdapterID())
	assert.True(t, r.IsIndirect())
	assert.False(t, r.IsWellKnown())
	assert.Equal(t, `hello -t @ "my adapter"`, f.String(r))

	wk, err := f.Parse("hello")
	require.NoError(t, err)
	assert.True(t, wk.IsWellKnown())
	assert.Equal(t, "hello -t", f.String(wk))

	quoted, err := f.Parse(`"a b:c" -t`)
	require.NoError(t, err)
	assert.Equal(t, "a b:c", quoted.Identity().Name)
	assert.Equal(t, `"a b:c" -t`, f.String(quoted))
}

// TestFactory_ParseErrors 测试非法代理
func TestFactory_ParseErrors(t *testing.T) {
	f := newFactory(t, types.ToStringUnicode)

	for _, s := range []string{
		"obj -x",
		"obj -f",
		"obj @",
		"obj:",
		"obj:udp -h x",
		`"unterminated`,
		"a/b/c",
		"cat/ -t",
	} {
		_, err := f.Parse(s)
		assert.ErrorIs(t, err, types.ErrProxyParse, s)
	}

	r, err := f.Parse("   ")
	require.NoError(t, err)
	assert.Nil(t, r)
}

// TestFactory_PropertyToReference 测试从属性读取代理
func TestFactory_PropertyToReference(t *testing.T) {
	f := newFactory(t, types.ToStringUnicode)
	props := properties.NewFromMap(map[string]string{
		"Ice.Default.Locator":                     "Locator:tcp -h 127.0.0.1 -p 4061",
		"Ice.Default.Locator.InvocationTimeout":   "250",
		"Ice.Default.Locator.LocatorCacheTimeout": "-1",
		"Ice.Default.Locator.Context.k":           "v",
		"Ice.Default.Locator.Router":              "Glacier/router:tcp -p 4063",
		"Ice.Default.Locator.PreferSecure":        "1",
	})

	r, err := f.PropertyToReference(props, "Ice.Default.Locator")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 250*time.Millisecond, r.InvocationTimeout())
	assert.Equal(t, time.Duration(-1), r.LocatorCacheTimeout())
	assert.Equal(t, map[string]string{"k": "v"}, r.Context())
	assert.True(t, r.PreferSecure())
	assert.False(t, r.Router().PreferSecure())
	require.NotNil(t, r.Router())
	assert.Equal(t, "router", r.Router().Identity().Name)

	missing, err := f.PropertyToReference(props, "Ice.Default.Router")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestFactory_Defaults 测试默认定位器与路由器
func TestFactory_Defaults(t *testing.T) {
	f := newFactory(t, types.ToStringUnicode)
	loc, err := f.Parse("Locator:tcp -p 4061")
	require.NoError(t, err)

	f2 := f.WithDefaultLocator(loc)
	assert.Nil(t, f.DefaultLocator())
	assert.Same(t, loc, f2.DefaultLocator())

	r := f2.Create(types.Identity{Name: "x"}, "", nil, "adapter")
	assert.Same(t, loc, r.Locator())
	assert.Nil(t, r.Router())

	c := r.WithEndpoints(loc.Endpoints())
	assert.Empty(t, c.AdapterID())
	assert.Equal(t, "adapter", r.AdapterID())
}
