// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturefile // import "github.com/orbit-profiler/orbit/capturefile"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/orbit-profiler/orbit/internal/wire"
)

const (
	// sizePrefixLen is the length of the size written before every record.
	sizePrefixLen = 4
	// maxRecordSize is the largest record accepted on write and on read.
	maxRecordSize = 1 << 30
	// readChunkSize bounds how far the read buffer grows ahead of the data received.
	readChunkSize = 1 << 20
)

// writeRecord writes m prefixed by its size.
func writeRecord(w io.Writer, m wire.Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if len(data) > maxRecordSize {
		return fmt.Errorf("record of %d bytes exceeds the size limit of %d bytes",
			len(data), maxRecordSize)
	}

	var prefix [sizePrefixLen]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err = w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readSize reads a record size. It returns io.EOF if r ends before the first byte of the
// prefix and io.ErrUnexpectedEOF if r ends inside the prefix.
func readSize(r io.Reader) (int, error) {
	var prefix [sizePrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, err
	}

	size := int32(binary.LittleEndian.Uint32(prefix[:]))
	if size < 0 || size > maxRecordSize {
		return 0, fmt.Errorf("%w: invalid record size %d", ErrTruncated, size)
	}
	return int(size), nil
}

// readBody reads a record of size bytes into m. buf is reused across calls and only
// grows as data arrives, so a corrupt size cannot force a large allocation.
func readBody(r io.Reader, size int, m wire.Message, buf *[]byte) error {
	data := (*buf)[:0]
	for len(data) < size {
		n := min(size-len(data), readChunkSize)
		data = slices.Grow(data, n)
		chunk := data[len(data) : len(data)+n]
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: expected %d bytes", ErrTruncated, size)
			}
			return err
		}
		data = data[:len(data)+n]
	}
	*buf = data
	return m.Unmarshal(data)
}

// readRecord reads one record into m. It returns io.EOF if r ends before the first byte of
// the size prefix and ErrTruncated if it ends anywhere else inside the record.
func readRecord(r io.Reader, m wire.Message, buf *[]byte) error {
	size, err := readSize(r)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: partial record size", ErrTruncated)
		}
		return err
	}
	return readBody(r, size, m, buf)
}
