// Package keymu provides a set of mutexes addressed by key. Locks for keys
// nobody holds or waits on are released from memory.
package keymu

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Mutex serializes work per key. The zero value is not usable; call New.
type Mutex[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty keyed mutex.
func New[K comparable]() *Mutex[K] {
	return &Mutex[K]{entries: make(map[K]*entry)}
}

// Lock blocks until key is held and returns its unlock function.
func (m *Mutex[K]) Lock(key K) func() {
	unlock, _ := m.LockContext(context.Background(), key)
	return unlock
}

// LockContext is Lock that gives up when ctx is done.
func (m *Mutex[K]) LockContext(ctx context.Context, key K) (func(), error) {
	e := m.acquire(key)

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.release(key)
			})
		}, nil
	case <-ctx.Done():
		m.release(key)
		return func() {}, ctx.Err()
	}
}

// TryLock takes key only if it is free.
func (m *Mutex[K]) TryLock(key K) (func(), bool) {
	e := m.acquire(key)

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.release(key)
			})
		}, true
	default:
		m.release(key)
		return func() {}, false
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Mutex[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Mutex[K]) acquire(key K) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Mutex[K]) release(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}
