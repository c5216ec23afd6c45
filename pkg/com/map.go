package com

import (
	"errors"
	"sync"
)

// Map defines a concurrent-safe map structure.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

var ErrNotFound = errors.New("not found")

func NewMap[K comparable, V any]() *Map[K, V] { return &Map[K, V]{m: make(map[K]V, 10)} }

func (m *Map[K, _]) Has(key K) bool    { _, err := m.Find(key); return err == nil }
func (m *Map[_, _]) IsEmpty() bool     { return m.Len() == 0 }
func (m *Map[_, _]) Len() int          { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }
func (m *Map[K, V]) Put(key K, v V)    { m.mu.Lock(); m.m[key] = v; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K) { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

// Find returns the value stored under key, ErrNotFound otherwise.
func (m *Map[K, V]) Find(key K) (v V, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.m[key]; ok {
		return c, nil
	}
	return v, ErrNotFound
}

// Values returns a snapshot of the stored values.
func (m *Map[K, V]) Values() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	vv := make([]V, 0, len(m.m))
	for _, v := range m.m {
		vv = append(vv, v)
	}
	return vv
}

// ForEach processes every element with the provided callback function.
// The callback must not call back into the map.
func (m *Map[K, V]) ForEach(fn func(v V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.m {
		fn(v)
	}
}
