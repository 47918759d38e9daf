// Package sync provides a generic map that is safe for concurrent use.
package sync

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Map is like a Go map[K]V but is safe for concurrent use by multiple goroutines.
type Map[K comparable, V any] struct {
	mutex sync.RWMutex
	data  map[K]V
}

// NewMap creates map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		data: make(map[K]V),
	}
}

// Store sets the value for a key.
func (m *Map[K, V]) Store(key K, value V) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.data[key] = value
}

// Swap stores the value for a key and returns the previous value if any.
func (m *Map[K, V]) Swap(key K, value V) (previous V, loaded bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	previous, loaded = m.data[key]
	m.data[key] = value
	return previous, loaded
}

// Load returns the value stored in the map for a key. The ok result indicates whether value was found in the map.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok = m.data[key]
	return value, ok
}

// Delete deletes the value for a key.
func (m *Map[K, V]) Delete(key K) (deleted bool) {
	_, deleted = m.PullOut(key)
	return deleted
}

// PullOut loads and deletes the value for a key.
func (m *Map[K, V]) PullOut(key K) (value V, ok bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	value, ok = m.data[key]
	delete(m.data, key)
	return value, ok
}

// PullOutAll extracts internal map data and replace it with empty map.
func (m *Map[K, V]) PullOutAll() map[K]V {
	m.mutex.Lock()
	data := m.data
	m.data = make(map[K]V)
	m.mutex.Unlock()
	return data
}

// CopyData returns a copy of the stored data.
func (m *Map[K, V]) CopyData() map[K]V {
	c := make(map[K]V)
	m.mutex.RLock()
	maps.Copy(c, m.data)
	m.mutex.RUnlock()
	return c
}

// Range calls f sequentially for each key and value present in the map. If f returns false, range stops the iteration.
// Note: The function copies the whole map under a read lock and then iterates this copy unlocked, so f may modify the map.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	for key, value := range m.CopyData() {
		if !f(key, value) {
			return
		}
	}
}

// Length returns number of stored values.
func (m *Map[K, V]) Length() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.data)
}
