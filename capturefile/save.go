// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturefile // import "github.com/orbit-profiler/orbit/capturefile"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	log "github.com/sirupsen/logrus"

	"github.com/orbit-profiler/orbit/clientprotos"
	"github.com/orbit-profiler/orbit/metrics"
)

// RequiredCaptureVersion is the version written into, and required from, capture files.
const RequiredCaptureVersion = "1.52"

// Options controls how a capture file is written.
type Options struct {
	// Compress wraps the records in a zstd frame.
	Compress bool
}

// Writer writes one capture file. The header and CaptureInfo are written by NewWriter,
// timers follow one by one. Close must be called to flush the output.
type Writer struct {
	out     *bufio.Writer
	encoder *zstd.Encoder
	timers  uint64
}

// NewWriter writes the header and info to w and returns a Writer for the timers.
func NewWriter(w io.Writer, info *clientprotos.CaptureInfo, opts Options) (*Writer, error) {
	writer := &Writer{}
	if opts.Compress {
		encoder, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %v", err)
		}
		writer.encoder = encoder
		w = encoder
	}
	writer.out = bufio.NewWriter(w)

	err := writeRecord(writer.out, &clientprotos.CaptureHeader{Version: RequiredCaptureVersion})
	if err == nil {
		err = writeRecord(writer.out, info)
	}
	if err != nil {
		_ = writer.closeEncoder()
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return writer, nil
}

// WriteTimer appends one timer record.
func (w *Writer) WriteTimer(timer *clientprotos.TimerInfo) error {
	if err := writeRecord(w.out, timer); err != nil {
		return err
	}
	w.timers++
	return nil
}

// Close flushes all records. It does not close the underlying writer.
func (w *Writer) Close() error {
	err := w.out.Flush()
	if encErr := w.closeEncoder(); err == nil {
		err = encErr
	}
	metrics.Add(metrics.IDCaptureFileTimersSaved, metrics.MetricValue(w.timers))
	return err
}

func (w *Writer) closeEncoder() error {
	if w.encoder == nil {
		return nil
	}
	return w.encoder.Close()
}

// Save writes a complete capture file to w.
func Save(w io.Writer, info *clientprotos.CaptureInfo, timers []clientprotos.TimerInfo,
	opts Options) error {
	writer, err := NewWriter(w, info, opts)
	if err != nil {
		return err
	}
	for i := range timers {
		if err = writer.WriteTimer(&timers[i]); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write timer: %w", err)
		}
	}
	return writer.Close()
}

// SaveFile writes a complete capture file to path, replacing any existing file.
func SaveFile(path string, info *clientprotos.CaptureInfo, timers []clientprotos.TimerInfo,
	opts Options) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	err = Save(file, info, timers, opts)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			log.Warnf("Failed to remove incomplete capture file %s: %v", path, removeErr)
		}
		return err
	}
	log.Infof("Saved capture of %d timers to %s", len(timers), path)
	return nil
}
