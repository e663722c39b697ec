// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbit-profiler/orbit/libpf/xsync"
)

type guardedModules struct {
	byStart map[uint64]string
}

func TestRWMutex(t *testing.T) {
	m := xsync.NewRWMutex(guardedModules{byStart: map[uint64]string{}})

	modules := m.WLock()
	modules.byStart[0x1000] = "/usr/lib/libc.so.6"
	m.WUnlock(&modules)
	assert.Nil(t, modules)

	readOnly := m.RLock()
	defer m.RUnlock(&readOnly)
	assert.Equal(t, "/usr/lib/libc.so.6", readOnly.byStart[0x1000])
}

func TestRWMutex_CrashOnUseAfterUnlock(t *testing.T) {
	m := xsync.NewRWMutex(uint64(0))
	p := m.WLock()
	*p = 123
	m.WUnlock(&p)

	assert.Panics(t, func() {
		*p = 345
	})
}

func TestMutex_ConcurrentAppend(t *testing.T) {
	m := xsync.NewMutex([]int(nil))
	wg := sync.WaitGroup{}

	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			values := m.Lock()
			*values = append(*values, i)
			m.Unlock(&values)
		}()
	}
	wg.Wait()

	values := m.Lock()
	defer m.Unlock(&values)
	assert.Len(t, *values, 16)
}
