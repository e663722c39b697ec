// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package internpool holds objects announced once on the capture stream so later events
// can reference them by key.
package internpool // import "github.com/orbit-profiler/orbit/internpool"

import (
	log "github.com/sirupsen/logrus"
)

// Pool maps 64-bit keys to interned values. It is not safe for concurrent use: a pool is
// owned by the goroutine processing one capture stream.
type Pool[V any] struct {
	name   string
	equal  func(a, b V) bool
	values map[uint64]V
}

// New creates an empty pool. The name only appears in log messages.
func New[V any](name string, equal func(a, b V) bool) *Pool[V] {
	return &Pool[V]{
		name:   name,
		equal:  equal,
		values: make(map[uint64]V),
	}
}

// Equal compares values with ==.
func Equal[V comparable](a, b V) bool {
	return a == b
}

// Insert stores value under key. Redefining a key with a different value keeps the new
// value and reports true.
func (p *Pool[V]) Insert(key uint64, value V) (overwritten bool) {
	if old, ok := p.values[key]; ok && !p.equal(old, value) {
		log.Warnf("Overwriting %s with key %#x", p.name, key)
		overwritten = true
	}
	p.values[key] = value
	return overwritten
}

// Get returns the value interned under key.
func (p *Pool[V]) Get(key uint64) (V, bool) {
	value, ok := p.values[key]
	return value, ok
}

func (p *Pool[V]) Len() int {
	return len(p.values)
}

// Reset drops all values. It is called when a new capture starts.
func (p *Pool[V]) Reset() {
	clear(p.values)
}
