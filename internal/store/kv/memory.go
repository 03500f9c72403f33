package kv

import (
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory Store, used in tests and as the backing store
// for throwaway repositories.
type Memory struct {
	mu     sync.RWMutex
	data   map[string]string
	notify notifier
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get implements Store.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Store.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	m.notify.publish(key)
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	m.notify.publish(key)
	return nil
}

// Keys implements Store.
func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(prefix string, fn func(key string)) func() {
	return m.notify.subscribe(prefix, fn)
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
