// Package glocal provides goroutine-local storage.
//
// The runtime exposes no public API for this, so the id is recovered the
// conventional way: parsing the header of the calling goroutine's own
// stack dump. Callers key a Map by that id to emulate the thread-local
// pointers (current fiber, thread-root, scheduler fiber, current
// scheduler) that this runtime's source models as implicit TLS.
package glocal

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// ID returns an identifier for the calling goroutine, stable for the
// lifetime of that goroutine.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// Map is a goroutine-id-keyed registry of values of type T.
type Map[T any] struct {
	mu sync.RWMutex
	m  map[uint64]T
}

// NewMap constructs an empty Map.
func NewMap[T any]() *Map[T] {
	return &Map[T]{m: make(map[uint64]T)}
}

// Get returns the value registered for the calling goroutine.
func (m *Map[T]) Get() (T, bool) {
	return m.GetID(ID())
}

// GetID returns the value registered for the given goroutine id.
func (m *Map[T]) GetID(id uint64) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[id]
	return v, ok
}

// Set registers a value for the calling goroutine.
func (m *Map[T]) Set(v T) {
	m.SetID(ID(), v)
}

// SetID registers a value for the given goroutine id.
func (m *Map[T]) SetID(id uint64, v T) {
	m.mu.Lock()
	m.m[id] = v
	m.mu.Unlock()
}

// Delete removes the entry for the calling goroutine, if any.
func (m *Map[T]) Delete() {
	id := ID()
	m.mu.Lock()
	delete(m.m, id)
	m.mu.Unlock()
}
