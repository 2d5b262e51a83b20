package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dep2p/go-commrt/internal/core/tracelevels"
	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// PropertyStore Properties facet 操作的属性集合
type PropertyStore interface {
	Get(key string) string
	GetForPrefix(prefix string) map[string]string
	Set(key, value string)
}

// UpdateCallback 属性更新回调，changes 中值为空表示删除
type UpdateCallback func(changes map[string]string)

// KeyParams getPropertyAsString 参数
type KeyParams struct {
	Key string `json:"key"`
}

// PrefixParams getPropertiesForPrefix 参数
type PrefixParams struct {
	Prefix string `json:"prefix"`
}

// SetPropertiesParams setProperties 参数
type SetPropertiesParams struct {
	Properties map[string]string `json:"properties"`
}

// Properties Properties facet
type Properties struct {
	props      PropertyStore
	logger     interfaces.Logger
	traceLevel int

	mu        sync.Mutex
	nextID    int
	callbacks map[int]UpdateCallback
	order     []int
}

var _ interfaces.Servant = (*Properties)(nil)

// NewProperties 创建 Properties facet
//
// traceLevel 为 Ice.Trace.Admin.Properties，> 0 时输出更新摘要。
func NewProperties(props PropertyStore, l interfaces.Logger, traceLevel int) *Properties {
	return &Properties{
		props:      props,
		logger:     l,
		traceLevel: traceLevel,
		callbacks:  make(map[int]UpdateCallback),
	}
}

// Dispatch 实现 Servant
func (p *Properties) Dispatch(_ context.Context, cur *interfaces.Current, params []byte) ([]byte, error) {
	switch cur.Operation {
	case "getPropertyAsString":
		var kp KeyParams
		if err := decode(params, &kp); err != nil {
			return nil, err
		}
		return json.Marshal(p.props.Get(kp.Key))
	case "getPropertiesForPrefix":
		var pp PrefixParams
		if err := decode(params, &pp); err != nil {
			return nil, err
		}
		return json.Marshal(p.props.GetForPrefix(pp.Prefix))
	case "setProperties":
		var sp SetPropertiesParams
		if err := decode(params, &sp); err != nil {
			return nil, err
		}
		p.SetProperties(sp.Properties)
		return nil, nil
	}
	return nil, types.ErrOperationNotExist
}

// AddUpdateCallback 注册属性更新回调，返回注销函数
func (p *Properties) AddUpdateCallback(cb UpdateCallback) (remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.callbacks[id] = cb
	p.order = append(p.order, id)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.callbacks, id)
		for i, x := range p.order {
			if x == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
}

// SetProperties 应用属性更新并通知回调
//
// 只有实际变化的键会被写入与通知；值为空表示删除。
func (p *Properties) SetProperties(update map[string]string) {
	var added, changed, removed []string
	changes := make(map[string]string)

	p.mu.Lock()
	for k, v := range update {
		old := p.props.Get(k)
		switch {
		case old == v:
			continue
		case v == "":
			removed = append(removed, k)
		case old == "":
			added = append(added, k)
		default:
			changed = append(changed, k)
		}
		changes[k] = v
	}
	for k, v := range changes {
		p.props.Set(k, v)
	}
	cbs := make([]UpdateCallback, 0, len(p.order))
	for _, id := range p.order {
		cbs = append(cbs, p.callbacks[id])
	}
	p.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	if p.traceLevel > 0 && p.logger != nil {
		p.logger.Trace(tracelevels.AdminPropertiesCat, summary(update, added, changed, removed))
	}
	for _, cb := range cbs {
		p.invoke(cb, changes)
	}
}

func (p *Properties) invoke(cb UpdateCallback, changes map[string]string) {
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Warning(fmt.Sprintf("properties admin update callback raised unexpected exception:\n%v", r))
		}
	}()
	cb(changes)
}

func summary(update map[string]string, added, changed, removed []string) string {
	var b strings.Builder
	b.WriteString("Summary:")
	section := func(title string, keys []string, withValue bool) {
		if len(keys) == 0 {
			return
		}
		sort.Strings(keys)
		b.WriteString("\n" + title + ":")
		for _, k := range keys {
			b.WriteString("\n  " + k)
			if withValue {
				b.WriteString(" = " + update[k])
			}
		}
	}
	section("Added properties", added, true)
	section("Changed properties", changed, true)
	section("Removed properties", removed, false)
	return b.String()
}

func decode(params []byte, v any) error {
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrProtocol, err)
	}
	return nil
}
