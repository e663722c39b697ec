// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package internpool

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool(t *testing.T) {
	pool := New("callstack", slices.Equal[[]uint64])

	_, ok := pool.Get(1)
	assert.False(t, ok)

	assert.False(t, pool.Insert(1, []uint64{1, 2, 3}))
	// Same content again is not an overwrite.
	assert.False(t, pool.Insert(1, []uint64{1, 2, 3}))
	assert.True(t, pool.Insert(1, []uint64{4, 5}))

	got, ok := pool.Get(1)
	assert.True(t, ok)
	assert.Equal(t, []uint64{4, 5}, got)
	assert.Equal(t, 1, pool.Len())

	pool.Reset()
	_, ok = pool.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 0, pool.Len())
}

func TestPoolStrings(t *testing.T) {
	pool := New("string", Equal[string])
	for key, value := range map[uint64]string{1: "a", 2: "b", 3: "c"} {
		assert.False(t, pool.Insert(key, value))
	}
	value, ok := pool.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "b", value)
}
