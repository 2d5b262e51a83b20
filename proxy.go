package commrt

import (
	"context"

	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// ObjectPrx 远程对象代理
//
// 代理不可变，Facet、Idempotent 等方法返回新代理。
type ObjectPrx struct {
	comm *Communicator
	ref  *reference.Reference
	mode types.OperationMode
}

func newProxy(c *Communicator, ref *reference.Reference) *ObjectPrx {
	return &ObjectPrx{comm: c, ref: ref, mode: types.ModeNormal}
}

func (p *ObjectPrx) reference() *reference.Reference {
	if p == nil {
		return nil
	}
	return p.ref
}

// Identity 目标对象身份
func (p *ObjectPrx) Identity() Identity {
	return p.ref.Identity()
}

// FacetName 目标 facet，默认 facet 为空串
func (p *ObjectPrx) FacetName() string {
	return p.ref.Facet()
}

// AdapterID 间接代理的适配器 ID
func (p *ObjectPrx) AdapterID() string {
	return p.ref.AdapterID()
}

// IsIndirect 是否为需要定位器解析的间接代理
func (p *ObjectPrx) IsIndirect() bool {
	return p.ref.IsIndirect()
}

// IsSecure 是否只使用安全端点
func (p *ObjectPrx) IsSecure() bool {
	return p.ref.Secure()
}

// IsPreferSecure 选择端点时是否安全端点优先
func (p *ObjectPrx) IsPreferSecure() bool {
	return p.ref.PreferSecure()
}

func (p *ObjectPrx) withRef(ref *reference.Reference) *ObjectPrx {
	return &ObjectPrx{comm: p.comm, ref: ref, mode: p.mode}
}

// WithSecure 返回只使用（或不限于）安全端点的代理
func (p *ObjectPrx) WithSecure(secure bool) *ObjectPrx {
	return p.withRef(p.ref.WithSecure(secure))
}

// WithPreferSecure 返回安全端点优先（或按原顺序）的代理
func (p *ObjectPrx) WithPreferSecure(prefer bool) *ObjectPrx {
	return p.withRef(p.ref.WithPreferSecure(prefer))
}

// WithAdapterID 返回经定位器解析 id 的间接代理，原端点被清除
func (p *ObjectPrx) WithAdapterID(id string) *ObjectPrx {
	return p.withRef(p.ref.WithAdapterID(id))
}

// Facet 返回指向 facet 的代理
func (p *ObjectPrx) Facet(facet string) *ObjectPrx {
	return p.withRef(p.ref.WithFacet(facet))
}

// Idempotent 返回以幂等模式调用的代理，连接在请求发出后丢失时仍可重试
func (p *ObjectPrx) Idempotent() *ObjectPrx {
	return &ObjectPrx{comm: p.comm, ref: p.ref, mode: types.ModeIdempotent}
}

// WithContext 返回附带请求上下文的代理
func (p *ObjectPrx) WithContext(ctx map[string]string) *ObjectPrx {
	return p.withRef(p.ref.WithContext(ctx))
}

// Invoke 调用操作，params 与返回值为操作参数和结果的编码
func (p *ObjectPrx) Invoke(ctx context.Context, operation string, params []byte) ([]byte, error) {
	return p.comm.inst.Invoke(ctx, p.ref, operation, p.mode, params)
}

// Ping 探测目标对象是否存在
func (p *ObjectPrx) Ping(ctx context.Context) error {
	_, err := p.comm.inst.Invoke(ctx, p.ref, interfaces.PingOperation, types.ModeIdempotent, nil)
	return err
}

// String 代理的字符串形式
func (p *ObjectPrx) String() string {
	if p == nil {
		return ""
	}
	return p.comm.inst.ProxyToString(p.ref)
}
