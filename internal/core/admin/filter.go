package admin

// Facet 名称
const (
	ProcessFacet    = "Process"
	PropertiesFacet = "Properties"
	LoggerFacet     = "Logger"
	MetricsFacet    = "Metrics"
)

// Filter Ice.Admin.Facets 白名单
//
// 空白名单允许所有 facet。
type Filter struct {
	allowed map[string]struct{}
}

// NewFilter 从 facet 名称列表创建过滤器
func NewFilter(names []string) Filter {
	f := Filter{}
	if len(names) == 0 {
		return f
	}
	f.allowed = make(map[string]struct{}, len(names))
	for _, n := range names {
		f.allowed[n] = struct{}{}
	}
	return f
}

// Empty 白名单是否为空
func (f Filter) Empty() bool { return len(f.allowed) == 0 }

// Allows 是否允许 facet
func (f Filter) Allows(name string) bool {
	if f.Empty() {
		return true
	}
	_, ok := f.allowed[name]
	return ok
}
