// Package keylock provides mutual exclusion per string key.
package keylock

import "sync"

// Map hands out one mutex per key. Entries are reference counted and
// removed when the last holder or waiter releases them.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

func (m *Map) acquire(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Lock blocks until key is held by the caller.
func (m *Map) Lock(key string) {
	m.acquire(key).mu.Lock()
}

// TryLock acquires key only if nobody holds it.
func (m *Map) TryLock(key string) bool {
	e := m.acquire(key)
	if e.mu.TryLock() {
		return true
	}
	m.release(key, e)
	return false
}

// Unlock releases key. Unlocking a key that is not held panics.
func (m *Map) Unlock(key string) {
	m.mu.Lock()
	e, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		panic("keylock: unlock of unlocked key " + key)
	}
	e.mu.Unlock()
	m.release(key, e)
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
