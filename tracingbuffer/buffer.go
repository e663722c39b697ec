// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracingbuffer batches capture records between the goroutines producing them
// and the goroutine applying them to the capture model.
package tracingbuffer // import "github.com/orbit-profiler/orbit/tracingbuffer"

import (
	"github.com/orbit-profiler/orbit/libpf/xsync"
)

// Buffer is a first-in-first-out buffer that is safe for concurrent access. Producers
// never wait for more than an append.
type Buffer[T any] struct {
	data xsync.Mutex[[]T]
}

// Record appends v to the buffer.
func (b *Buffer[T]) Record(v T) {
	data := b.data.Lock()
	defer b.data.Unlock(&data)
	*data = append(*data, v)
}

// ReadAll moves all buffered elements into out, replacing its content, and empties the
// buffer. It returns false and leaves out untouched when the buffer is empty.
func (b *Buffer[T]) ReadAll(out *[]T) bool {
	data := b.data.Lock()
	defer b.data.Unlock(&data)

	if len(*data) == 0 {
		return false
	}
	*out = *data
	*data = nil
	return true
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	data := b.data.Lock()
	defer b.data.Unlock(&data)
	return len(*data)
}

// Reset drops all buffered elements.
func (b *Buffer[T]) Reset() {
	data := b.data.Lock()
	defer b.data.Unlock(&data)
	*data = nil
}
