package locator

import (
	"context"
	"encoding/json"

	"github.com/dep2p/go-commrt/internal/core/reference"
	"github.com/dep2p/go-commrt/pkg/types"
)

// Invoker 向远程对象发出调用
//
// 由 invocation 包实现；定位器自身的调用不会再经定位器解析。
type Invoker interface {
	Invoke(ctx context.Context, ref *reference.Reference, operation string, mode types.OperationMode, params []byte) ([]byte, error)
}

// Parser 解析代理字符串
type Parser interface {
	Parse(s string) (*reference.Reference, error)
}

// 定位器、注册表与路由器的操作名
const (
	OpFindAdapterByID       = "findAdapterById"
	OpFindObjectByID        = "findObjectById"
	OpGetRegistry           = "getRegistry"
	OpSetAdapterDirectProxy = "setAdapterDirectProxy"
	OpSetServerProcessProxy = "setServerProcessProxy"
	OpGetClientProxy        = "getClientProxy"
	OpGetServerProxy        = "getServerProxy"
)

// SetProxyParams setAdapterDirectProxy / setServerProcessProxy 的参数
type SetProxyParams struct {
	ID    string `json:"id"`
	Proxy string `json:"proxy"`
}

// callForProxy 调用一个返回代理字符串的操作，空字符串返回 nil
func callForProxy(ctx context.Context, inv Invoker, p Parser, target *reference.Reference, op string, in any) (*reference.Reference, error) {
	var params []byte
	if in != nil {
		var err error
		if params, err = json.Marshal(in); err != nil {
			return nil, err
		}
	}
	out, err := inv.Invoke(ctx, target, op, types.ModeIdempotent, params)
	if err != nil {
		return nil, err
	}
	var s string
	if len(out) > 0 {
		if err := json.Unmarshal(out, &s); err != nil {
			return nil, err
		}
	}
	if s == "" {
		return nil, nil
	}
	return p.Parse(s)
}
