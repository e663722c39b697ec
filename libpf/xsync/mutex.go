// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "github.com/orbit-profiler/orbit/libpf/xsync"

import "sync"

// Mutex is the exclusive counterpart of RWMutex, for data that is only ever mutated.
type Mutex[T any] struct {
	guarded T
	mutex   sync.Mutex
}

// NewMutex creates a new mutex guarding the given value.
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
