package protocol

import (
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-commrt/pkg/types"
)

// ReplyStatus 应答状态
type ReplyStatus int32

const (
	// ReplyOK 成功
	ReplyOK ReplyStatus = iota
	// ReplyUserException 用户异常
	ReplyUserException
	// ReplyObjectNotExist 对象不存在
	ReplyObjectNotExist
	// ReplyFacetNotExist facet 不存在
	ReplyFacetNotExist
	// ReplyOperationNotExist 操作不存在
	ReplyOperationNotExist
	// ReplyUnknownException 其他异常
	ReplyUnknownException
)

// Request 请求消息体
type Request struct {
	// RequestID 请求 ID，单向请求为 0
	RequestID int32
	Identity  types.Identity
	Facet     string
	Operation string
	Mode      types.OperationMode
	Context   map[string]string
	Params    []byte
}

// Reply 应答消息体
type Reply struct {
	RequestID int32
	Status    ReplyStatus
	// Result 成功时的结果编码
	Result []byte
	// TypeID 用户异常类型
	TypeID string
	// Message 异常说明
	Message string
}

// 请求字段编号
const (
	reqRequestID protowire.Number = iota + 1
	reqName
	reqCategory
	reqFacet
	reqOperation
	reqMode
	reqContext
	reqParams
)

// 应答字段编号
const (
	repRequestID protowire.Number = iota + 1
	repStatus
	repResult
	repTypeID
	repMessage
)

// 上下文条目字段编号
const (
	ctxKey   protowire.Number = 1
	ctxValue protowire.Number = 2
)

// ============================================================================
//                              编码
// ============================================================================

// Marshal 编码请求
func (r *Request) Marshal() []byte {
	var b []byte
	b = appendVarint(b, reqRequestID, uint64(uint32(r.RequestID)))
	b = appendString(b, reqName, r.Identity.Name)
	b = appendString(b, reqCategory, r.Identity.Category)
	b = appendString(b, reqFacet, r.Facet)
	b = appendString(b, reqOperation, r.Operation)
	b = appendVarint(b, reqMode, uint64(r.Mode))

	keys := make([]string, 0, len(r.Context))
	for k := range r.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, ctxKey, k)
		entry = appendString(entry, ctxValue, r.Context[k])
		b = protowire.AppendTag(b, reqContext, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	if len(r.Params) > 0 {
		b = protowire.AppendTag(b, reqParams, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Params)
	}
	return b
}

// Marshal 编码应答
func (r *Reply) Marshal() []byte {
	var b []byte
	b = appendVarint(b, repRequestID, uint64(uint32(r.RequestID)))
	b = appendVarint(b, repStatus, uint64(r.Status))
	if len(r.Result) > 0 {
		b = protowire.AppendTag(b, repResult, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Result)
	}
	b = appendString(b, repTypeID, r.TypeID)
	b = appendString(b, repMessage, r.Message)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// ============================================================================
//                              解码
// ============================================================================

// UnmarshalRequest 解码请求
func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == reqRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.RequestID = int32(uint32(v))
			return n, nil
		case num == reqMode && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Mode = types.OperationMode(v)
			return n, nil
		case typ != protowire.BytesType:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case reqName:
			r.Identity.Name = string(v)
		case reqCategory:
			r.Identity.Category = string(v)
		case reqFacet:
			r.Facet = string(v)
		case reqOperation:
			r.Operation = string(v)
		case reqParams:
			r.Params = append([]byte(nil), v...)
		case reqContext:
			k, val, err := unmarshalContextEntry(v)
			if err != nil {
				return 0, err
			}
			if r.Context == nil {
				r.Context = make(map[string]string)
			}
			r.Context[k] = val
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UnmarshalReply 解码应答
func UnmarshalReply(b []byte) (*Reply, error) {
	r := &Reply{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == repRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.RequestID = int32(uint32(v))
			return n, nil
		case num == repStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Status = ReplyStatus(v)
			return n, nil
		case typ != protowire.BytesType:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case repResult:
			r.Result = append([]byte(nil), v...)
		case repTypeID:
			r.TypeID = string(v)
		case repMessage:
			r.Message = string(v)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshalContextEntry(b []byte) (key, value string, err error) {
	err = consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeString(b)
		switch num {
		case ctxKey:
			key = v
		case ctxValue:
			value = v
		}
		return n, nil
	})
	return key, value, err
}

// consumeFields 遍历字段，fn 返回消耗的字节数（负数为 protowire 错误码）
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protocolError("malformed field tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protocolError("malformed field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
