package reference

import (
	"fmt"
	"strings"
	"time"

	"github.com/dep2p/go-commrt/config"
	"github.com/dep2p/go-commrt/internal/core/endpoint"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// ============================================================================
//                              Factory 实现
// ============================================================================

// Factory Reference 工厂
//
// Factory 不可变；WithDefaultLocator / WithDefaultRouter 返回新工厂，
// 由实例在锁内替换。
type Factory struct {
	endpoints           *endpoint.FactoryManager
	mode                types.ToStringMode
	invocationTimeout   time.Duration
	locatorCacheTimeout time.Duration
	preferSecure        bool
	defaultLocator      *Reference
	defaultRouter       *Reference
}

// NewFactory 创建工厂
func NewFactory(eps *endpoint.FactoryManager, mode types.ToStringMode, defaults config.DefaultsConfig) *Factory {
	return &Factory{
		endpoints:           eps,
		mode:                mode,
		invocationTimeout:   defaults.InvocationTimeout.Duration(),
		locatorCacheTimeout: defaults.LocatorCacheTimeout.Duration(),
		preferSecure:        defaults.PreferSecure,
	}
}

// ToStringMode 字符串化模式
func (f *Factory) ToStringMode() types.ToStringMode { return f.mode }

// EndpointFactoryManager 端点工厂注册表
func (f *Factory) EndpointFactoryManager() *endpoint.FactoryManager { return f.endpoints }

// DefaultLocator 默认定位器
func (f *Factory) DefaultLocator() *Reference { return f.defaultLocator }

// DefaultRouter 默认路由器
func (f *Factory) DefaultRouter() *Reference { return f.defaultRouter }

// WithDefaultLocator 返回使用新默认定位器的工厂
func (f *Factory) WithDefaultLocator(l *Reference) *Factory {
	c := *f
	c.defaultLocator = l
	return &c
}

// WithDefaultRouter 返回使用新默认路由器的工厂
func (f *Factory) WithDefaultRouter(r *Reference) *Factory {
	c := *f
	c.defaultRouter = r
	return &c
}

// Create 以默认值创建 Reference
//
// endpoints 非空时为直连代理，否则以 adapterID（可为空）为间接代理。
func (f *Factory) Create(id types.Identity, facet string, eps []endpoint.Endpoint, adapterID string) *Reference {
	r := &Reference{
		identity:            id,
		facet:               facet,
		invocationTimeout:   f.invocationTimeout,
		locatorCacheTimeout: f.locatorCacheTimeout,
		preferSecure:        f.preferSecure,
		locator:             f.defaultLocator,
		router:              f.defaultRouter,
	}
	if len(eps) > 0 {
		r.endpoints = append([]endpoint.Endpoint(nil), eps...)
	} else {
		r.adapterID = adapterID
	}
	return r
}

// ============================================================================
//                              解析
// ============================================================================

// Parse 解析代理字符串
func (f *Factory) Parse(s string) (*Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	head, sep, tail := splitProxy(s)
	args, err := splitArgs(head)
	if err != nil {
		return nil, fmt.Errorf("%w: %v in `%s'", types.ErrProxyParse, err, s)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no identity in `%s'", types.ErrProxyParse, s)
	}

	id, err := StringToIdentity(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProxyParse, err)
	}
	if id.Name == "" {
		return nil, fmt.Errorf("%w: %w: empty identity in `%s'", types.ErrProxyParse, types.ErrIllegalIdentity, s)
	}

	var (
		facet  string
		mode   = ModeTwoway
		secure bool
	)
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%w: missing argument for -f in `%s'", types.ErrProxyParse, s)
			}
			i++
			if facet, err = unescape(args[i]); err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrProxyParse, err)
			}
		case "-t":
			mode = ModeTwoway
		case "-o":
			mode = ModeOneway
		case "-s":
			secure = true
		default:
			return nil, fmt.Errorf("%w: unknown option `%s' in `%s'", types.ErrProxyParse, args[i], s)
		}
	}

	var (
		eps       []endpoint.Endpoint
		adapterID string
	)
	switch sep {
	case ':':
		if eps, err = f.endpoints.ParseList(tail); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrProxyParse, err)
		}
		if len(eps) == 0 {
			return nil, fmt.Errorf("%w: no endpoints after ':' in `%s'", types.ErrProxyParse, s)
		}
	case '@':
		tokens, err := splitArgs(tail)
		if err != nil || len(tokens) != 1 {
			return nil, fmt.Errorf("%w: invalid adapter id in `%s'", types.ErrProxyParse, s)
		}
		if adapterID, err = unescape(tokens[0]); err != nil || adapterID == "" {
			return nil, fmt.Errorf("%w: invalid adapter id in `%s'", types.ErrProxyParse, s)
		}
	}

	r := f.Create(id, facet, eps, adapterID)
	r.mode = mode
	r.secure = secure
	return r, nil
}

// PropertyToReference 读取以 prefix 为名的代理属性及其子属性
//
//	prefix                       代理字符串
//	prefix.Locator               定位器代理
//	prefix.Router                路由器代理
//	prefix.InvocationTimeout     调用超时（毫秒）
//	prefix.LocatorCacheTimeout   定位缓存有效期（秒）
//	prefix.PreferSecure          安全端点优先（0 或 1）
//	prefix.Context.<key>         调用上下文
func (f *Factory) PropertyToReference(props interfaces.PropertiesReader, prefix string) (*Reference, error) {
	r, err := f.Parse(props.Get(prefix))
	if err != nil || r == nil {
		return r, err
	}

	if s := props.Get(prefix + ".Locator"); s != "" {
		l, err := f.Parse(s)
		if err != nil {
			return nil, err
		}
		r.locator = l
	}
	if s := props.Get(prefix + ".Router"); s != "" {
		rt, err := f.Parse(s)
		if err != nil {
			return nil, err
		}
		r.router = rt
	}
	if v := props.GetAsIntWithDefault(prefix+".InvocationTimeout", 0); v != 0 {
		r.invocationTimeout = time.Duration(v) * time.Millisecond
		if v < 0 {
			r.invocationTimeout = -1
		}
	}
	if v := props.GetAsIntWithDefault(prefix+".LocatorCacheTimeout", 0); v != 0 {
		r.locatorCacheTimeout = time.Duration(v) * time.Second
		if v < 0 {
			r.locatorCacheTimeout = -1
		}
	}
	if props.Get(prefix+".PreferSecure") != "" {
		r.preferSecure = props.GetAsInt(prefix+".PreferSecure") > 0
	}
	ctxPrefix := prefix + ".Context."
	for k, v := range props.GetForPrefix(ctxPrefix) {
		if r.context == nil {
			r.context = make(map[string]string)
		}
		r.context[strings.TrimPrefix(k, ctxPrefix)] = v
	}
	return r, nil
}

// ============================================================================
//                              格式化
// ============================================================================

// String 格式化代理字符串
func (f *Factory) String(r *Reference) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(quoteArg(IdentityToString(r.identity, f.mode)))
	if r.facet != "" {
		b.WriteString(" -f ")
		b.WriteString(quoteArg(escape(r.facet, "", f.mode)))
	}
	if r.mode == ModeOneway {
		b.WriteString(" -o")
	} else {
		b.WriteString(" -t")
	}
	if r.secure {
		b.WriteString(" -s")
	}
	switch {
	case len(r.endpoints) > 0:
		b.WriteByte(':')
		b.WriteString(endpoint.ListToString(r.endpoints))
	case r.adapterID != "":
		b.WriteString(" @ ")
		b.WriteString(quoteArg(escape(r.adapterID, "", f.mode)))
	}
	return b.String()
}

// IdentityToString 按工厂的模式转义身份
func (f *Factory) IdentityToString(id types.Identity) string {
	return IdentityToString(id, f.mode)
}

// splitProxy 在第一个未加引号、未转义的 ':' 或 '@' 处切分
func splitProxy(s string) (head string, sep byte, tail string) {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			quoted = !quoted
		case ':', '@':
			if !quoted {
				return s[:i], s[i], s[i+1:]
			}
		}
	}
	return s, 0, ""
}

// splitArgs 按空白切分，去掉双引号，保留反斜杠转义
func splitArgs(s string) ([]string, error) {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		have   bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			cur.WriteByte(c)
			cur.WriteByte(s[i+1])
			i++
			have = true
		case c == '"':
			quoted = !quoted
			have = true
		case !quoted && (c == ' ' || c == '\t' || c == '\n' || c == '\r'):
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteByte(c)
			have = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("mismatched quotes")
	}
	if have {
		out = append(out, cur.String())
	}
	return out, nil
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t:@") || strings.HasPrefix(s, "-") {
		return `"` + s + `"`
	}
	return s
}
