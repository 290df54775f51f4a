package registry

import "sync"

// lockedMap serializes concurrent writes from the health-check fan-out into
// a shared results map.
type lockedMap struct {
	mu      sync.Mutex
	results map[string]HealthStatus
}

func (m *lockedMap) set(name string, status HealthStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[name] = status
}
