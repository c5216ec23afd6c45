package com

import "sync"

// Lanes keeps one lazily created state value per key and serializes
// every access to that value. Calls for different keys never wait on each other
// (apart from the short map lookup).
//
// The state of a key is garbage-collected as soon as a callback reports it empty.
type Lanes[K comparable, V any] struct {
	mu    sync.Mutex
	lanes map[K]*lane[V]
	init  func() V
}

type lane[V any] struct {
	mu   sync.Mutex
	v    V
	dead bool
}

func NewLanes[K comparable, V any](init func() V) *Lanes[K, V] {
	return &Lanes[K, V]{lanes: make(map[K]*lane[V]), init: init}
}

// Do runs fn with exclusive access to the state of key, creating it first
// when needed. When fn returns true the state is dropped.
func (l *Lanes[K, V]) Do(key K, fn func(v V) (drop bool)) {
	for {
		ln := l.getOrCreate(key)
		ln.mu.Lock()
		if ln.dead {
			// lost the race with a drop, the key has (or will get) a fresh lane
			ln.mu.Unlock()
			continue
		}
		drop := fn(ln.v)
		if drop {
			l.drop(key, ln)
		}
		ln.mu.Unlock()
		return
	}
}

// Peek is like Do but never creates the state. It reports whether fn was run.
func (l *Lanes[K, V]) Peek(key K, fn func(v V) (drop bool)) bool {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	l.mu.Unlock()
	if !ok {
		return false
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.dead {
		return false
	}
	if fn(ln.v) {
		l.drop(key, ln)
	}
	return true
}

// Len returns the number of live keys.
func (l *Lanes[K, V]) Len() int { l.mu.Lock(); defer l.mu.Unlock(); return len(l.lanes) }

func (l *Lanes[K, V]) getOrCreate(key K) *lane[V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane[V]{v: l.init()}
		l.lanes[key] = ln
	}
	return ln
}

// drop must be called with ln.mu held.
func (l *Lanes[K, V]) drop(key K, ln *lane[V]) {
	ln.dead = true
	l.mu.Lock()
	if cur, ok := l.lanes[key]; ok && cur == ln {
		delete(l.lanes, key)
	}
	l.mu.Unlock()
}
