// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/orbit-profiler/orbit/libpf"

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// HashFrames computes the content hash of a list of instruction pointers. Frames are fed to
// the hasher as little-endian words so the result does not depend on the host byte order.
func HashFrames(frames []uint64) uint64 {
	h := xxh3.New()
	var word [8]byte
	for _, frame := range frames {
		binary.LittleEndian.PutUint64(word[:], frame)
		_, _ = h.Write(word[:])
	}
	return h.Sum64()
}

// HashCallstack computes the id of a callstack. tag, the callstack type, is hashed after
// the frames so that equal frames obtained in different ways get different ids.
func HashCallstack(frames []uint64, tag int32) uint64 {
	h := xxh3.New()
	var word [8]byte
	for _, frame := range frames {
		binary.LittleEndian.PutUint64(word[:], frame)
		_, _ = h.Write(word[:])
	}
	binary.LittleEndian.PutUint32(word[:4], uint32(tag))
	_, _ = h.Write(word[:4])
	return h.Sum64()
}

// HashString computes the key under which a string is announced to listeners.
func HashString(s string) uint64 {
	return xxh3.HashString(s)
}

// HashUint64 is a hash function for 64-bit keys usable with freelru caches.
func HashUint64(v uint64) uint32 {
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], v)
	return uint32(xxh3.Hash(word[:]))
}
