package instance

import (
	"github.com/dep2p/go-commrt/internal/core/admin"
	"github.com/dep2p/go-commrt/internal/core/connection"
	"github.com/dep2p/go-commrt/internal/core/introspect"
	"github.com/dep2p/go-commrt/pkg/interfaces"
)

var _ interfaces.ObserverUpdater = (*Instance)(nil)

// UpdateConnectionObservers 刷新所有连接的观察者
func (i *Instance) UpdateConnectionObservers() {
	if f, err := i.OutgoingConnectionFactory(); err == nil && f != nil {
		f.UpdateObservers()
	}
	if f, err := i.ObjectAdapterFactory(); err == nil && f != nil {
		f.UpdateObservers()
	}
}

// UpdateThreadObservers 刷新线程池、定时器与解析器的观察者
func (i *Instance) UpdateThreadObservers() {
	i.lc.Lock()
	if i.lc.CheckLocked() != nil {
		i.lc.Unlock()
		return
	}
	client, server, res, tm := i.clientPool, i.serverPool, i.resolver, i.timer
	i.lc.Unlock()

	if client != nil {
		client.UpdateObservers()
	}
	if server != nil {
		server.UpdateObservers()
	}
	if res != nil {
		res.UpdateObserver(i.observer)
	}
	if tm != nil {
		tm.UpdateObserver(i.observer)
	}
}

// ============================================================================
//                              诊断数据源
// ============================================================================

// introspectSource 把实例状态暴露给诊断 HTTP 服务
type introspectSource struct {
	i *Instance
}

var _ introspect.Source = introspectSource{}

func (s introspectSource) State() string {
	return s.i.lc.State().String()
}

func (s introspectSource) AdminFacetNames() []string {
	return s.i.adminFacetNames()
}

func (s introspectSource) PropertiesForPrefix(prefix string) map[string]string {
	return s.i.props.GetForPrefix(prefix)
}

func (s introspectSource) RecentLog(max int) ([]admin.LogMessage, bool) {
	if s.i.loggerAdmin == nil {
		return nil, false
	}
	return s.i.loggerAdmin.GetLog(admin.LogFilter{MessageMax: max}).Messages, true
}

func (s introspectSource) Connections() []introspect.ConnectionInfo {
	var conns []*connection.Connection
	if f, err := s.i.OutgoingConnectionFactory(); err == nil && f != nil {
		conns = append(conns, f.Connections()...)
	}
	if f, err := s.i.ObjectAdapterFactory(); err == nil && f != nil {
		for _, a := range f.Adapters() {
			conns = append(conns, a.Connections()...)
		}
	}

	infos := make([]introspect.ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, introspect.ConnectionInfo{
			ID:       c.ID(),
			Endpoint: c.Endpoint().String(),
			State:    c.State().String(),
			Incoming: c.Incoming(),
			Local:    c.LocalAddr(),
			Remote:   c.RemoteAddr(),
		})
	}
	return infos
}
