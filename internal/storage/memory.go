package storage

import "sync"

// Memory is a map-backed Store. It is the development default and the test
// fixture; unlike the hub's own registries it takes a lock, since the admin
// API reads it outside the hub goroutine.
type Memory struct {
	mu       sync.RWMutex
	personal map[string]map[string]any
	global   map[string]any
}

func NewMemory() *Memory {
	return &Memory{
		personal: make(map[string]map[string]any),
		global:   make(map[string]any),
	}
}

func (m *Memory) GetPersonal(userID, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.personal[userID][key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetPersonal(userID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.personal[userID]
	if !ok {
		bucket = make(map[string]any)
		m.personal[userID] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *Memory) GetGlobal(key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.global[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetGlobal(key string, value any, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global[key] = value
	return nil
}
