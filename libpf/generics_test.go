// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	set := SliceToSet([]uint64{3, 1, 3})
	assert.Len(t, set, 2)
	assert.True(t, set.Has(1))
	assert.False(t, set.Has(2))

	assert.True(t, set.Add(2))
	assert.False(t, set.Add(2))

	items := set.ToSlice()
	slices.Sort(items)
	assert.Equal(t, []uint64{1, 2, 3}, items)
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"},
		SortedKeys(map[string]int{"c": 3, "a": 1, "b": 2}))
	assert.Empty(t, SortedKeys(map[string]int{}))
}
