package metrics

import (
	"sort"
	"strings"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// PropertyPrefix 视图配置前缀
const PropertyPrefix = "IceMX.Metrics."

// Map 名称
const (
	MapThread                  = "Thread"
	MapConnection              = "Connection"
	MapConnectionEstablishment = "ConnectionEstablishment"
	MapInvocation              = "Invocation"
	MapDispatch                = "Dispatch"
)

// AllMaps 所有支持的 map
var AllMaps = []string{MapThread, MapConnection, MapConnectionEstablishment, MapInvocation, MapDispatch}

// view 一个指标视图
type view struct {
	name     string
	disabled bool
	maps     map[string]bool
}

func (v *view) includes(m string) bool {
	return len(v.maps) == 0 || v.maps[m]
}

// parseViews 从 IceMX.Metrics.* 属性解析视图
func parseViews(props interfaces.PropertiesReader) map[string]*view {
	views := make(map[string]*view)
	if props == nil {
		return views
	}
	for key := range props.GetForPrefix(PropertyPrefix) {
		rest := strings.TrimPrefix(key, PropertyPrefix)
		name, _, ok := strings.Cut(rest, ".")
		if !ok || name == "" {
			continue
		}
		if _, exists := views[name]; exists {
			continue
		}
		v := &view{
			name:     name,
			disabled: props.GetAsInt(PropertyPrefix+name+".Disabled") > 0,
			maps:     make(map[string]bool),
		}
		mapPrefix := PropertyPrefix + name + ".Map."
		for mk := range props.GetForPrefix(mapPrefix) {
			m, _, _ := strings.Cut(strings.TrimPrefix(mk, mapPrefix), ".")
			for _, known := range AllMaps {
				if m == known {
					v.maps[m] = true
				}
			}
		}
		views[name] = v
	}
	return views
}

func sortedNames(views map[string]*view, disabled bool) []string {
	names := make([]string, 0, len(views))
	for name, v := range views {
		if v.disabled == disabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
