package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	dto "github.com/prometheus/client_model/go"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// FacetName Metrics facet 名称
const FacetName = "Metrics"

// UnknownMetricsViewTypeID 视图不存在时的用户异常类型
const UnknownMetricsViewTypeID = "::IceMX::UnknownMetricsView"

// ViewNames getMetricsViewNames 的结果
type ViewNames struct {
	Enabled  []string `json:"enabled"`
	Disabled []string `json:"disabled"`
}

// ViewParams 以视图名为参数的操作
type ViewParams struct {
	View string `json:"view"`
}

// Sample 一个指标样本
type Sample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
	// Sum 直方图样本的累计值
	Sum float64 `json:"sum,omitempty"`
}

// View getMetrics 的结果
type View struct {
	Timestamp int64               `json:"timestamp"`
	Metrics   map[string][]Sample `json:"metrics"`
}

// Facet Metrics 管理 facet
type Facet struct {
	o *Observer
}

var _ interfaces.Servant = (*Facet)(nil)

// NewFacet 创建 Metrics facet
func NewFacet(o *Observer) *Facet {
	return &Facet{o: o}
}

// Dispatch 实现 Servant
func (f *Facet) Dispatch(_ context.Context, cur *interfaces.Current, params []byte) ([]byte, error) {
	switch cur.Operation {
	case "getMetricsViewNames":
		return json.Marshal(f.ViewNames())
	case "enableMetricsView", "disableMetricsView", "getMetrics":
		var p ViewParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrProtocol, err)
		}
		switch cur.Operation {
		case "enableMetricsView":
			return nil, f.SetViewEnabled(p.View, true)
		case "disableMetricsView":
			return nil, f.SetViewEnabled(p.View, false)
		default:
			v, err := f.Metrics(p.View)
			if err != nil {
				return nil, err
			}
			return json.Marshal(v)
		}
	}
	return nil, types.ErrOperationNotExist
}

// ViewNames 返回启用与停用的视图名
func (f *Facet) ViewNames() ViewNames {
	f.o.mu.RLock()
	defer f.o.mu.RUnlock()
	return ViewNames{
		Enabled:  sortedNames(f.o.views, false),
		Disabled: sortedNames(f.o.views, true),
	}
}

// SetViewEnabled 启用或停用视图并刷新观察者
func (f *Facet) SetViewEnabled(name string, enabled bool) error {
	f.o.mu.Lock()
	v, ok := f.o.views[name]
	if !ok {
		f.o.mu.Unlock()
		return unknownView(name)
	}
	changed := v.disabled == enabled
	v.disabled = !enabled
	f.o.mu.Unlock()

	if changed {
		f.o.refresh()
	}
	return nil
}

// Metrics 返回视图包含的所有指标
func (f *Facet) Metrics(name string) (*View, error) {
	f.o.mu.RLock()
	v, ok := f.o.views[name]
	var maps []string
	if ok && !v.disabled {
		for _, m := range AllMaps {
			if v.includes(m) {
				maps = append(maps, m)
			}
		}
	}
	f.o.mu.RUnlock()
	if !ok {
		return nil, unknownView(name)
	}

	wanted := make(map[string]bool)
	for _, m := range maps {
		for _, fam := range f.o.families[m] {
			wanted[fam] = true
		}
	}

	families, err := f.o.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := &View{
		Timestamp: f.o.clock.Now().UnixMilli(),
		Metrics:   make(map[string][]Sample),
	}
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		out.Metrics[mf.GetName()] = samples(mf)
	}
	return out, nil
}

func samples(mf *dto.MetricFamily) []Sample {
	res := make([]Sample, 0, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		s := Sample{}
		if len(m.GetLabel()) > 0 {
			s.Labels = make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				s.Labels[lp.GetName()] = lp.GetValue()
			}
		}
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			s.Value = m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			s.Value = m.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			s.Value = float64(m.GetHistogram().GetSampleCount())
			s.Sum = m.GetHistogram().GetSampleSum()
		}
		res = append(res, s)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return fmt.Sprint(res[i].Labels) < fmt.Sprint(res[j].Labels)
	})
	return res
}

func unknownView(name string) error {
	return &types.UserError{TypeID: UnknownMetricsViewTypeID, Message: name}
}
