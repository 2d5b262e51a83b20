package instance

import (
	"fmt"
	"sync"

	"github.com/dep2p/go-commrt/pkg/interfaces"
)

// ============================================================================
//                              全局实例注册表
// ============================================================================

// 注册表只在增删条目时持锁，销毁过程中从不持有
var (
	registryMu sync.Mutex
	registry   = make(map[*Instance]struct{})
)

func register(i *Instance) {
	registryMu.Lock()
	registry[i] = struct{}{}
	registryMu.Unlock()
}

func unregister(i *Instance) {
	registryMu.Lock()
	delete(registry, i)
	registryMu.Unlock()
}

// UndestroyedCount 返回尚未销毁的实例数量
func UndestroyedCount() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}

// PrintUndestroyed 在 l 上警告仍未销毁的实例，返回其数量
func PrintUndestroyed(l interfaces.Logger) int {
	registryMu.Lock()
	names := make([]string, 0, len(registry))
	for i := range registry {
		names = append(names, i.name())
	}
	registryMu.Unlock()

	if l != nil {
		for _, n := range names {
			l.Warning(fmt.Sprintf("communicator `%s' was not destroyed", n))
		}
	}
	return len(names)
}
