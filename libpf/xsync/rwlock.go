// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/probetrap/libpf/xsync"

import "sync"

// RWMutex is a thin wrapper around sync.RWMutex that hides away the data it protects to ensure it's
// not accidentally accessed without actually holding the lock.
//
// The lock hands out a pointer to the guarded data and the matching unlock call invalidates it:
//
//	pages := mem.pages.RLock()
//	defer mem.pages.RUnlock(&pages)
//	pg := (*pages)[addr]
//
// Go can't prevent a caller from copying the pointer before unlocking, but a forgotten lock no
// longer compiles and a use after unlock crashes in tests.
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a new read-write mutex.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{
		guarded: guarded,
	}
}

// RLock locks the mutex for reading, returning a pointer to the protected data.
//
// The caller **must not** write to the data pointed to by the returned pointer, and must not
// let the pointer escape the function that took the lock.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock unlocks the mutex after previously being locked by RLock.
//
// Pass a reference to the pointer returned from RLock here to ensure it is invalidated.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks the mutex for writing, returning a pointer to the protected data.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock unlocks the mutex after previously being locked by WLock.
//
// Pass a reference to the pointer returned from WLock here to ensure it is invalidated.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}

// Mutex is the exclusive-only variant of RWMutex.
type Mutex[T any] struct {
	guarded T
	mutex   sync.Mutex
}

// NewMutex creates a new mutex guarding the given data.
func NewMutex[T any](guarded T) Mutex[T] {
	return Mutex[T]{
		guarded: guarded,
	}
}

// Lock locks the mutex, returning a pointer to the protected data.
func (mtx *Mutex[T]) Lock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// Unlock unlocks the mutex and invalidates the pointer returned from Lock.
func (mtx *Mutex[T]) Unlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
