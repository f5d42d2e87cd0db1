// Package syncx holds the small locking primitives shared by the detection
// workers and their orchestrator.
package syncx

import "sync"

// Mutex is a non-reentrant lock with a non-blocking TryLock.
// A goroutine must not call Lock twice without an Unlock in between.
type Mutex struct {
	mu sync.Mutex
}

// Lock blocks until the mutex is acquired
func (m *Mutex) Lock() {
	m.mu.Lock()
}

// TryLock acquires the mutex if it is free, and never blocks
func (m *Mutex) TryLock() bool {
	return m.mu.TryLock()
}

func (m *Mutex) Unlock() {
	m.mu.Unlock()
}

// Do runs f with the mutex held. The mutex is released even if f panics.
func (m *Mutex) Do(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f()
}

// TryDo runs f with the mutex held, but only if the mutex could be acquired
// without blocking. Returns false if f was not run.
func (m *Mutex) TryDo(f func()) bool {
	if !m.mu.TryLock() {
		return false
	}
	defer m.mu.Unlock()
	f()
	return true
}
