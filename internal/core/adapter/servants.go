package adapter

import (
	"maps"
	"sync"

	"github.com/dep2p/go-commrt/pkg/interfaces"
	"github.com/dep2p/go-commrt/pkg/types"
)

// servantMap 身份 → facet → servant，以及按类别的默认 servant
type servantMap struct {
	mu        sync.RWMutex
	servants  map[types.Identity]map[string]interfaces.Servant
	defaults  map[string]interfaces.Servant
	destroyed bool
}

func newServantMap() *servantMap {
	return &servantMap{
		servants: make(map[types.Identity]map[string]interfaces.Servant),
		defaults: make(map[string]interfaces.Servant),
	}
}

func (m *servantMap) add(id types.Identity, facet string, s interfaces.Servant) error {
	if s == nil {
		return types.ErrIllegalServant
	}
	if err := id.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return types.ErrObjectAdapterDeactivated
	}
	facets := m.servants[id]
	if facets == nil {
		facets = make(map[string]interfaces.Servant)
		m.servants[id] = facets
	}
	if _, ok := facets[facet]; ok {
		return types.AlreadyRegistered("servant", describe(id, facet))
	}
	facets[facet] = s
	return nil
}

func (m *servantMap) addDefault(category string, s interfaces.Servant) error {
	if s == nil {
		return types.ErrIllegalServant
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return types.ErrObjectAdapterDeactivated
	}
	if _, ok := m.defaults[category]; ok {
		return types.AlreadyRegistered("default servant", category)
	}
	m.defaults[category] = s
	return nil
}

func (m *servantMap) remove(id types.Identity, facet string) (interfaces.Servant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	facets := m.servants[id]
	s, ok := facets[facet]
	if !ok {
		return nil, types.NotRegistered("servant", describe(id, facet))
	}
	delete(facets, facet)
	if len(facets) == 0 {
		delete(m.servants, id)
	}
	return s, nil
}

func (m *servantMap) removeAll(id types.Identity) (map[string]interfaces.Servant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	facets, ok := m.servants[id]
	if !ok {
		return nil, types.NotRegistered("servant", describe(id, ""))
	}
	delete(m.servants, id)
	return facets, nil
}

func (m *servantMap) removeDefault(category string) (interfaces.Servant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.defaults[category]
	if !ok {
		return nil, types.NotRegistered("default servant", category)
	}
	delete(m.defaults, category)
	return s, nil
}

func (m *servantMap) find(id types.Identity, facet string) interfaces.Servant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servants[id][facet]
}

func (m *servantMap) findAll(id types.Identity) map[string]interfaces.Servant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.servants[id])
}

func (m *servantMap) findDefault(category string) interfaces.Servant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults[category]
}

// lookup 分派时的查找：精确匹配，否则按类别、再按空类别取默认 servant
func (m *servantMap) lookup(id types.Identity, facet string) (interfaces.Servant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if facets, ok := m.servants[id]; ok {
		if s, ok := facets[facet]; ok {
			return s, nil
		}
		return nil, types.ErrFacetNotExist
	}
	if s, ok := m.defaults[id.Category]; ok {
		return s, nil
	}
	if s, ok := m.defaults[""]; ok {
		return s, nil
	}
	return nil, types.ErrObjectNotExist
}

func (m *servantMap) destroy() {
	m.mu.Lock()
	m.servants = make(map[types.Identity]map[string]interfaces.Servant)
	m.defaults = make(map[string]interfaces.Servant)
	m.destroyed = true
	m.mu.Unlock()
}

func describe(id types.Identity, facet string) string {
	if facet == "" {
		return id.String()
	}
	return id.String() + " -f " + facet
}
