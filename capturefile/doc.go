// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capturefile saves captures to and replays them from the capture file format.
//
// A capture file is a sequence of records, each a little-endian int32 size followed by
// that many bytes of one encoded message:
//
//	[ header_size ][ CaptureHeader ]
//	[ info_size   ][ CaptureInfo   ]
//	( [ timer_size ][ TimerInfo ] )*
//
// The whole sequence may be wrapped in a single zstd frame. Load detects this from the
// zstd magic number.
package capturefile // import "github.com/orbit-profiler/orbit/capturefile"
